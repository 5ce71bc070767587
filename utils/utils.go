package utils

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHex  = errors.New("malformed hex string")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyResponse = errors.New("empty response")
	// ErrTimeout is returned by the exchange layer when no response arrived in time
	ErrTimeout = errors.New("timeout waiting for response")
)

// NumberToBytes packs the low length bytes of num in big-endian order
func NumberToBytes(num uint64, length int) []byte {
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(num)
		num >>= 8
	}
	return out
}

// CheckFits fails with ErrInvalidInput when num needs more than length bytes
func CheckFits(name string, num uint64, length int) error {
	if length < 1 || length > 8 {
		return fmt.Errorf("%w: %s field length %d", ErrInvalidInput, name, length)
	}
	if length < 8 && num>>(uint(length)*8) != 0 {
		return fmt.Errorf("%w: %s 0x%X does not fit in %d bytes", ErrInvalidInput, name, num, length)
	}
	return nil
}
