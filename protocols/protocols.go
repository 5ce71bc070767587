// Package protocols builds manufacturer specific diagnostic requests.
package protocols

import (
	"errors"
	"fmt"
	"strings"

	"vehiclediag/utils"
)

var (
	ErrUnsupportedManufacturer = errors.New("no manufacturer protocol for vehicle")
	ErrUnsupportedOperation    = errors.New("operation not supported by manufacturer protocol")
	// ErrECUReported is a vendor level error reply, distinct from a UDS negative response
	ErrECUReported = errors.New("ecu returned error")
)

// Protocol is the capability set shared by the manufacturer variants.
// Builders return canonical hex and are pure.
type Protocol interface {
	Name() string
	ReadAdaptation(channel uint16) (string, error)
	WriteAdaptation(channel, value, workshopCode uint16) (string, error)
	ReadCoding() (string, error)
	WriteCoding(coding []byte, workshopCode uint16) (string, error)
	ComponentTest(componentID uint16, testType byte) (string, error)
	ReadECUIdentification(identType byte) (string, error)
	// ParseResponse returns the reply payload or the vendor's error
	ParseResponse(hex string) ([]byte, error)

	sealed()
}

// GetProtocol picks the variant for a vehicle or manufacturer name by
// case-insensitive substring.
func GetProtocol(manufacturer string) (Protocol, error) {
	name := strings.ToLower(manufacturer)
	switch {
	case strings.Contains(name, "vw"), strings.Contains(name, "audi"), strings.Contains(name, "volkswagen"):
		return VW{}, nil
	case strings.Contains(name, "nissan"), strings.Contains(name, "infiniti"):
		return Nissan{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedManufacturer, manufacturer)
	}
}

func buildCommand(id byte, parameters ...byte) string {
	return utils.BytesToHexString(append([]byte{id}, parameters...))
}

func be16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
