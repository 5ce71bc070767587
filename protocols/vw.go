package protocols

import (
	"vehiclediag/uds"
)

// VW group KWP2000 service IDs
const (
	VWServiceStartDiagnosticSession byte = 0x10
	VWServiceClearDTC               byte = 0x14
	VWServiceReadDTCByStatus        byte = 0x17
	VWServiceReadCoding             byte = 0x19
	VWServiceReadECUIdentification  byte = 0x1A
	VWServiceReadDataByLocalID      byte = 0x21
	VWServiceReadDataByCommonID     byte = 0x22
	VWServiceSecurityAccess         byte = 0x27
	VWServiceWriteDataByCommonID    byte = 0x2E
	VWServiceInputOutputControl     byte = 0x30
	VWServiceStartRoutineByLocalID  byte = 0x31
	VWServiceStopRoutineByLocalID   byte = 0x32
	VWServiceRequestRoutineResults  byte = 0x33
	VWServiceWriteDataByLocalID     byte = 0x3B
	VWServiceTesterPresent          byte = 0x3E
)

// Common adaptation channels
const (
	VWChannelThrottleAdaptation    uint16 = 0x0001
	VWChannelIdleSpeed             uint16 = 0x0002
	VWChannelFuelTrimLow           uint16 = 0x0003
	VWChannelFuelTrimHigh          uint16 = 0x0004
	VWChannelSteeringAngle         uint16 = 0x0005
	VWChannelHeadlightRange        uint16 = 0x0006
	VWChannelTirePressureThreshold uint16 = 0x0007
	VWChannelStartStopEnabled      uint16 = 0x0008
	VWChannelComfortSettings       uint16 = 0x0009
	VWChannelDaytimeRunningLights  uint16 = 0x000A
)

// Identification types for ReadECUIdentification
const (
	VWIdentVIN             byte = 0x86
	VWIdentPartNumber      byte = 0x87
	VWIdentSoftware        byte = 0x88
	VWIdentHardware        byte = 0x89
	VWIdentAll             byte = 0x9A
	VWDefaultComponentTest byte = 0x01
)

// VW covers VW, Audi and the other group brands.
type VW struct{}

func (VW) Name() string { return "VW/Audi KWP2000" }
func (VW) sealed()      {}

func (VW) ReadAdaptation(channel uint16) (string, error) {
	return buildCommand(VWServiceReadDataByLocalID, be16(channel)...), nil
}

func (VW) WriteAdaptation(channel, value, workshopCode uint16) (string, error) {
	params := be16(channel)
	params = append(params, be16(value)...)
	params = append(params, be16(workshopCode)...)
	return buildCommand(VWServiceWriteDataByCommonID, params...), nil
}

func (VW) ReadCoding() (string, error) {
	return buildCommand(VWServiceReadCoding, 0x00), nil
}

// WriteCoding sends long coding as an opaque blob followed by the workshop code.
func (VW) WriteCoding(coding []byte, workshopCode uint16) (string, error) {
	params := append([]byte(nil), coding...)
	params = append(params, be16(workshopCode)...)
	return buildCommand(VWServiceWriteDataByCommonID, params...), nil
}

func (VW) ComponentTest(componentID uint16, testType byte) (string, error) {
	return buildCommand(VWServiceStartRoutineByLocalID, append([]byte{testType}, be16(componentID)...)...), nil
}

// ReadECUIdentification reads one identification record, VWIdentAll for everything.
func (VW) ReadECUIdentification(identType byte) (string, error) {
	return buildCommand(VWServiceReadECUIdentification, identType), nil
}

// ResetAdaptation restores a channel to its learned default.
func (VW) ResetAdaptation(channel uint16) string {
	return buildCommand(VWServiceStartRoutineByLocalID, append([]byte{0x00}, be16(channel)...)...)
}

func (VW) ReadMeasuringBlock(block uint16) string {
	return buildCommand(VWServiceReadDataByLocalID, be16(block)...)
}

// Login is the PIN based security access used by older group ECUs.
func (VW) Login(accessLevel byte, pin uint16) string {
	return buildCommand(VWServiceSecurityAccess, append([]byte{accessLevel}, be16(pin)...)...)
}

// ParseResponse uses the UDS convention, a negative reply becomes a *uds.NegativeResponseError.
func (VW) ParseResponse(hex string) ([]byte, error) {
	resp, err := uds.ParseResponse(hex)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
