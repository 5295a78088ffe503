// Package text normalizes chat text and fits conversation history into the
// generator's token budget.
package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmpty is returned when nothing is left after sanitization.
var ErrEmpty = errors.New("empty text")

var (
	// controlCharsRegex matches ASCII control characters except tab and newline.
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	multipleNewlinesRegex = regexp.MustCompile(`\n{3,}`)

	// systemPrefixRegex matches an echoed "[SYSTEM]" marker at the start of a fragment.
	systemPrefixRegex = regexp.MustCompile(`^\s*\[SYSTEM\]\s*`)

	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", // word joiner
		"\uFEFF", "", // byte order mark
		"\u00AD", "", // soft hyphen
		"\u200E", "", // left-to-right mark
		"\u200F", "", // right-to-left mark
		"\u2028", "\n",
		"\u2029", "\n\n",
		"\u200B", " ",
		"\u2009", " ",
		"\u200A", " ",
		"\u202F", " ",
		"\u3000", " ",
		"\u00A0", " ",
	)
)

// normalizeLineWhitespace collapses runs of whitespace into one space and
// trims the line.
func normalizeLineWhitespace(line string) string {
	var sb strings.Builder
	var space bool

	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				sb.WriteRune(' ')
				space = true
			}
		} else {
			sb.WriteRune(r)
			space = false
		}
	}

	return strings.TrimSpace(sb.String())
}

// Sanitize normalizes line endings, strips invisible and control characters,
// collapses whitespace inside lines and limits blank lines to one.
func Sanitize(input string) (string, error) {
	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = controlCharsRegex.ReplaceAllString(s, " ")

	parts := strings.Split(s, "\n")
	for i := range parts {
		parts[i] = normalizeLineWhitespace(parts[i])
	}

	s = strings.Join(parts, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")

	result := strings.TrimSpace(s)
	if result == "" {
		return "", ErrEmpty
	}
	return result, nil
}

// SanitizeFragments cleans generator output fragments, dropping echoed
// system markers and fragments that end up empty. Order is preserved.
func SanitizeFragments(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		clean, err := Sanitize(systemPrefixRegex.ReplaceAllString(f, ""))
		if err != nil {
			continue
		}
		out = append(out, clean)
	}
	return out
}
