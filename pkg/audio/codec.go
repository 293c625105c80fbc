package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedEncoding is returned by [DecodeBase64] when the input contains
// characters outside the standard base64 alphabet or is incorrectly padded.
var ErrMalformedEncoding = errors.New("audio: malformed encoding")

// EncodeBase64 returns the standard base64 text form of b.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 is the exact inverse of [EncodeBase64]. Errors wrap
// [ErrMalformedEncoding].
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return b, nil
}
