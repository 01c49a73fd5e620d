package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidDataURI = errors.New("invalid data uri")

// IsDataURI reports whether source is an inline data: payload.
func IsDataURI(source string) bool {
	return len(source) > 5 && strings.EqualFold(source[:5], "data:")
}

// ParseDataURI splits a data: URI into its media type and decoded payload.
// Both base64 and percent-encoded payloads are accepted.
func ParseDataURI(source string) (string, []byte, error) {
	if !IsDataURI(source) {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(source[5:], ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}

	params := strings.Split(meta, ";")
	mime := strings.TrimSpace(params[0])
	if mime == "" {
		mime = "text/plain"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		return mime, []byte(s), nil
	}

	// Browsers emit padded standard base64; tolerate missing padding and whitespace.
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
	}
	return mime, data, nil
}

// EncodeDataURI builds a base64 data: URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
