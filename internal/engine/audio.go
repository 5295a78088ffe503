package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAudio is returned when an inline audio payload cannot be decoded.
var ErrInvalidAudio = errors.New("invalid audio payload")

// defaultAudioMIME is assumed when the payload carries no media type.
const defaultAudioMIME = "audio/ogg"

// DecodeAudio decodes a base64 audio payload, optionally wrapped as a data
// URL ("data:audio/webm;base64,..."). It returns the raw bytes and the media
// type, preferring the one embedded in the data URL over mime.
func DecodeAudio(payload, mime string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("%w: malformed data url", ErrInvalidAudio)
		}
		if embedded := strings.TrimSuffix(header, ";base64"); embedded != "" {
			mime = embedded
		}
		payload = data
	}

	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = defaultAudioMIME
	}
	if !strings.HasPrefix(mime, "audio/") {
		return nil, "", fmt.Errorf("%w: unsupported media type %q", ErrInvalidAudio, mime)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidAudio, err)
		}
	}
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}
	return raw, mime, nil
}
