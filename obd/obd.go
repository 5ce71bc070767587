// Package obd builds SAE J1979 (OBD-II) requests and scales their answers.
package obd

import (
	"errors"
	"fmt"

	"vehiclediag/uds"
	"vehiclediag/utils"
)

// Modes used by the diagnostic client
const (
	ModeCurrentData byte = 0x01
	ModeFreezeFrame byte = 0x02
)

// ErrNoFreezeFrame is returned when the ECU has not stored the requested freeze frame.
var ErrNoFreezeFrame = errors.New("no freeze frame stored")

// PID is a mode 01/02 parameter identifier.
type PID byte

const (
	PIDSupported        PID = 0x00 // PIDs 0x01-0x20 supported
	PIDFreezeFrameDTC   PID = 0x02
	PIDEngineLoad       PID = 0x04
	PIDCoolantTemp      PID = 0x05
	PIDFuelPressure     PID = 0x0A
	PIDEngineRPM        PID = 0x0C
	PIDVehicleSpeed     PID = 0x0D
	PIDTimingAdvance    PID = 0x0E
	PIDIntakeAirTemp    PID = 0x0F
	PIDMAF              PID = 0x10
	PIDThrottlePosition PID = 0x11
	PIDFuelLevel        PID = 0x2F
)

// LivePIDs is the dashboard set read by a live data request, in request order.
var LivePIDs = []PID{
	PIDEngineRPM,
	PIDVehicleSpeed,
	PIDCoolantTemp,
	PIDThrottlePosition,
	PIDEngineLoad,
	PIDFuelLevel,
}

type scaling struct {
	name   string
	unit   string
	length int
	scale  func(a, b float64) float64
}

func percent(a, _ float64) float64 { return a * 100 / 255 }

var scalings = map[PID]scaling{
	PIDEngineLoad:       {"Engine Load", "%", 1, percent},
	PIDCoolantTemp:      {"Coolant Temperature", "°C", 1, func(a, _ float64) float64 { return a - 40 }},
	PIDFuelPressure:     {"Fuel Pressure", "kPa", 1, func(a, _ float64) float64 { return a * 3 }},
	PIDEngineRPM:        {"Engine RPM", "rpm", 2, func(a, b float64) float64 { return (a*256 + b) / 4 }},
	PIDVehicleSpeed:     {"Vehicle Speed", "km/h", 1, func(a, _ float64) float64 { return a }},
	PIDTimingAdvance:    {"Timing Advance", "°", 1, func(a, _ float64) float64 { return a/2 - 64 }},
	PIDIntakeAirTemp:    {"Intake Air Temperature", "°C", 1, func(a, _ float64) float64 { return a - 40 }},
	PIDMAF:              {"MAF Air Flow", "g/s", 2, func(a, b float64) float64 { return (a*256 + b) / 100 }},
	PIDThrottlePosition: {"Throttle Position", "%", 1, percent},
	PIDFuelLevel:        {"Fuel Level", "%", 1, percent},
}

func (p PID) String() string {
	switch p {
	case PIDSupported:
		return "Supported PIDs"
	case PIDFreezeFrameDTC:
		return "Freeze Frame DTC"
	}
	if s, ok := scalings[p]; ok {
		return s.name
	}
	return fmt.Sprintf("PID 0x%02X", byte(p))
}

// Unit is empty for PIDs without a scaling.
func (p PID) Unit() string {
	return scalings[p].unit
}

// Decode scales the data bytes of a PID answer. Bytes past the PID's length are ignored.
func Decode(pid PID, data []byte) (float64, error) {
	s, ok := scalings[pid]
	if !ok {
		return 0, fmt.Errorf("%w: no scaling for %s", utils.ErrInvalidInput, pid)
	}
	if len(data) < s.length {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", utils.ErrInvalidInput, pid, s.length, len(data))
	}
	var b float64
	if s.length > 1 {
		b = float64(data[1])
	}
	return s.scale(float64(data[0]), b), nil
}

// Reading is one scaled value.
type Reading struct {
	PID   PID
	Value float64
}

func (r Reading) String() string {
	return fmt.Sprintf("%s: %.2f %s", r.PID, r.Value, r.PID.Unit())
}

// CurrentData requests a live value.
func CurrentData(pid PID) string {
	return utils.BytesToHexString([]byte{ModeCurrentData, byte(pid)})
}

// FreezeFrame requests pid as stored in freeze frame number frame.
func FreezeFrame(pid PID, frame byte) string {
	return utils.BytesToHexString([]byte{ModeFreezeFrame, byte(pid), frame})
}

// ParseSupported decodes the 4 byte bitmap answering PIDSupported.
// The most significant bit of the first byte is PID 0x01.
func ParseSupported(bitmap []byte) ([]PID, error) {
	if len(bitmap) < 4 {
		return nil, fmt.Errorf("%w: supported PID bitmap of %d bytes", utils.ErrInvalidInput, len(bitmap))
	}
	var pids []PID
	for i := 0; i < 32; i++ {
		if bitmap[i/8]&(0x80>>(i%8)) != 0 {
			pids = append(pids, PID(i+1))
		}
	}
	return pids, nil
}

// ParseFreezeFrameDTC returns the code that stored a freeze frame.
func ParseFreezeFrameDTC(data []byte) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("%w: freeze frame dtc of %d bytes", utils.ErrInvalidInput, len(data))
	}
	if data[0] == 0 && data[1] == 0 {
		return "", ErrNoFreezeFrame
	}
	return uds.FormatDTCCode(data[0], data[1]), nil
}

// Snapshot is the content of one freeze frame.
type Snapshot struct {
	Frame    byte
	DTC      string
	Readings []Reading
}
