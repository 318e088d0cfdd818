// Package keycodec escapes attribute keys so they can be used as field names
// inside a nested document, where '.' separates path segments and '$' marks
// operators.
//
// Encoding rules:
//   - '$' becomes "$d"
//   - '.' becomes "$p"
//   - every other byte is copied unchanged, so keys need not be valid UTF-8
//
// Decode reverses the mapping. Any leader followed by an unknown marker, or a
// leader at the very end of the input, means the string was not produced by
// Encode and is reported as ErrInvalidEscape.
package keycodec

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Leader starts every escape sequence.
	Leader = '$'
	// Separator is the structural path separator of the document store.
	Separator = '.'

	leaderMarker    = 'd'
	separatorMarker = 'p'
)

// ErrInvalidEscape is returned by Decode for input that contains an escape
// sequence Encode never emits.
var ErrInvalidEscape = errors.New("invalid escape sequence")

// Encode returns the escaped form of key.
func Encode(key string) string {
	if !strings.ContainsAny(key, "$.") {
		return key
	}

	var b strings.Builder
	b.Grow(len(key) + 4)
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case Leader:
			b.WriteByte(Leader)
			b.WriteByte(leaderMarker)
		case Separator:
			b.WriteByte(Leader)
			b.WriteByte(separatorMarker)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Decode returns the original key for an encoded string.
func Decode(encoded string) (string, error) {
	if !strings.ContainsRune(encoded, Leader) {
		return encoded, nil
	}

	var b strings.Builder
	b.Grow(len(encoded))
	escaping := false
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		switch {
		case escaping:
			switch c {
			case leaderMarker:
				b.WriteByte(Leader)
			case separatorMarker:
				b.WriteByte(Separator)
			default:
				return "", fmt.Errorf("%w: $%c at offset %d in %q", ErrInvalidEscape, c, i-1, encoded)
			}
			escaping = false
		case c == Leader:
			escaping = true
		default:
			b.WriteByte(c)
		}
	}
	if escaping {
		return "", fmt.Errorf("%w: dangling $ in %q", ErrInvalidEscape, encoded)
	}
	return b.String(), nil
}

// EncodeAll encodes every key in keys, preserving order.
func EncodeAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = Encode(k)
	}
	return out
}

// DecodeMap returns a copy of m with every key decoded.
func DecodeMap(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		dk, err := Decode(k)
		if err != nil {
			return nil, err
		}
		out[dk] = v
	}
	return out, nil
}
