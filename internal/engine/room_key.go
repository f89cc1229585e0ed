package engine

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedRoomKey = errors.New("malformed room key")

// DeriveRoomKey names the room slot for an ordered contestant pair.
// Each address is written as uvarint(len) followed by its bytes, and the result is
// base64url encoded without padding. (a, b) and (b, a) are different slots.
func DeriveRoomKey(contestant1, contestant2 string) string {
	buf := make([]byte, 0, len(contestant1)+len(contestant2)+2*binary.MaxVarintLen64)
	buf = appendField(buf, contestant1)
	buf = appendField(buf, contestant2)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseRoomKey returns the ordered pair a key was derived from.
func ParseRoomKey(key string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedRoomKey, err)
	}
	c1, rest, err := readField(raw)
	if err != nil {
		return "", "", err
	}
	c2, rest, err := readField(rest)
	if err != nil {
		return "", "", err
	}
	if len(rest) != 0 {
		return "", "", fmt.Errorf("%w: %d trailing bytes", ErrMalformedRoomKey, len(rest))
	}
	return c1, c2, nil
}

func appendField(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readField(b []byte) (string, []byte, error) {
	n, read := binary.Uvarint(b)
	if read <= 0 {
		return "", nil, fmt.Errorf("%w: bad length prefix", ErrMalformedRoomKey)
	}
	b = b[read:]
	if uint64(len(b)) < n {
		return "", nil, fmt.Errorf("%w: field shorter than prefix", ErrMalformedRoomKey)
	}
	return string(b[:n]), b[n:], nil
}
