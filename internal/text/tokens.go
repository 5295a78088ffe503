package text

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a string.
type Counter func(s string) int

var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerOnce sync.Once
	tokenizerErr  error
)

func getTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
		if tokenizerErr != nil {
			slog.Warn("Failed to initialize tokenizer, using estimates", "error", tokenizerErr)
		}
	})
	return tokenizer, tokenizerErr
}

// EstimateTokens is a ballpark count that works across models.
func EstimateTokens(s string) int {
	return len(s)/3 + 5
}

// CountTokens counts cl100k tokens with a 20% safety margin, falling back
// to EstimateTokens when the encoding cannot be loaded.
func CountTokens(s string) int {
	const overhead = 1.2

	tk, err := getTokenizer()
	if err != nil {
		return int(float64(EstimateTokens(s)) * overhead)
	}
	return int(float64(len(tk.Encode(s, nil, nil)))*overhead + 0.5)
}
