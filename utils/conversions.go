package utils

import (
	"fmt"
)

// HexStringToBytes converts a canonical hex string (uppercase, no separators, even length) to a byte slice
func HexStringToBytes(in string) ([]byte, error) {
	// Ensure the string has an even length
	if len(in)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length: %q", ErrMalformedHex, in)
	}

	// Pre-allocate the byte slice with the exact size
	data := make([]byte, len(in)/2)

	for i := 0; i < len(in); i += 2 {
		hi, ok := hexDigit(in[i])
		if !ok {
			return nil, fmt.Errorf("%w: invalid digit %q at position %d", ErrMalformedHex, in[i], i)
		}
		lo, ok := hexDigit(in[i+1])
		if !ok {
			return nil, fmt.Errorf("%w: invalid digit %q at position %d", ErrMalformedHex, in[i+1], i+1)
		}
		data[i/2] = hi<<4 | lo
	}

	return data, nil
}

// BytesToHexString renders bytes in the canonical uppercase form used at every boundary
func BytesToHexString(data []byte) string {
	return fmt.Sprintf("%X", data)
}

// MustHexStringToBytes is HexStringToBytes for literals known to be valid
func MustHexStringToBytes(in string) []byte {
	data, err := HexStringToBytes(in)
	if err != nil {
		panic(err)
	}
	return data
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
