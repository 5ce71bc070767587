package protocols

import (
	"fmt"

	"vehiclediag/utils"
)

// Consult command bytes. There is no service/subfunction split.
const (
	NissanECUIdentification          byte = 0xD0
	NissanReadDiagnosticRegisters    byte = 0xD1
	NissanReadDataStream             byte = 0x5A
	NissanSelfDiagnosticResults      byte = 0xD3
	NissanClearSelfDiagnosticResults byte = 0xC3
	NissanSwitchDiagnosticMode       byte = 0xD6
	NissanECUStatus                  byte = 0xE0
	NissanActiveTest                 byte = 0xE1
	NissanReadROM                    byte = 0xE2
	NissanWriteRAM                   byte = 0xE3
	NissanReadWorkSupport            byte = 0xE5

	nissanErrorByte byte = 0xFF
)

// Data stream parameters
const (
	NissanEngineRPM        byte = 0x00
	NissanVehicleSpeed     byte = 0x01
	NissanCoolantTemp      byte = 0x02
	NissanThrottlePosition byte = 0x03
	NissanFuelTemp         byte = 0x04
	NissanMAFVoltage       byte = 0x05
	NissanIgnitionTiming   byte = 0x06
	NissanAACValve         byte = 0x07
	NissanAFAlpha          byte = 0x08
	NissanFuelTrim         byte = 0x09
	NissanInjectorPulse    byte = 0x0A
	NissanOxygenSensor     byte = 0x0B
	NissanBatteryVoltage   byte = 0x0C
)

// Active tests
const (
	NissanTestInjector1      byte = 0x01
	NissanTestInjector2      byte = 0x02
	NissanTestInjector3      byte = 0x03
	NissanTestInjector4      byte = 0x04
	NissanTestIdleAirControl byte = 0x10
	NissanTestIgnitionCoil1  byte = 0x20
	NissanTestFuelPump       byte = 0x30
	NissanTestEvapPurge      byte = 0x40
)

// Diagnostic modes for SwitchDiagnosticMode
const (
	NissanModeStandard byte = 0x01
	NissanModeEnhanced byte = 0x02
)

// maxDefaultStreamParams caps the default data stream request
const maxDefaultStreamParams = 16

// defaultStreamParams are requested when ReadDataStream gets no list
var defaultStreamParams = []byte{
	NissanEngineRPM,
	NissanVehicleSpeed,
	NissanCoolantTemp,
	NissanThrottlePosition,
	NissanFuelTemp,
	NissanMAFVoltage,
	NissanIgnitionTiming,
	NissanAACValve,
	NissanAFAlpha,
	NissanFuelTrim,
	NissanInjectorPulse,
	NissanOxygenSensor,
	NissanBatteryVoltage,
}

// adaptationReadLength is the size of a work support value read through ReadAdaptation
const adaptationReadLength = 2

// Nissan speaks Consult. The shared capabilities map onto work support and
// RAM access; coding has no Consult equivalent.
type Nissan struct{}

func (Nissan) Name() string { return "Nissan Consult" }
func (Nissan) sealed()      {}

// ReadAdaptation reads a 2 byte work support value at the channel address.
func (n Nissan) ReadAdaptation(channel uint16) (string, error) {
	return n.ReadWorkSupport(channel, adaptationReadLength), nil
}

// WriteAdaptation writes value to RAM at the channel address. Consult has no workshop code.
func (n Nissan) WriteAdaptation(channel, value, _ uint16) (string, error) {
	return n.WriteRAM(channel, be16(value)), nil
}

func (Nissan) ReadCoding() (string, error) {
	return "", fmt.Errorf("%w: read coding over Consult", ErrUnsupportedOperation)
}

func (Nissan) WriteCoding([]byte, uint16) (string, error) {
	return "", fmt.Errorf("%w: write coding over Consult", ErrUnsupportedOperation)
}

// ComponentTest runs an active test. testType is the activation state.
func (n Nissan) ComponentTest(componentID uint16, testType byte) (string, error) {
	if componentID > 0xFF {
		return "", fmt.Errorf("%w: active test id 0x%X exceeds one byte", utils.ErrInvalidInput, componentID)
	}
	return n.ActiveTest(byte(componentID), testType), nil
}

// ReadECUIdentification ignores identType, Consult returns one identification block.
func (Nissan) ReadECUIdentification(byte) (string, error) {
	return buildCommand(NissanECUIdentification), nil
}

// ReadDataStream requests the given parameters, or the standard set when none are given.
func (Nissan) ReadDataStream(params ...byte) string {
	if len(params) == 0 {
		params = defaultStreamParams
		if len(params) > maxDefaultStreamParams {
			params = params[:maxDefaultStreamParams]
		}
	}
	return buildCommand(NissanReadDataStream, params...)
}

func (Nissan) ReadSelfDiagnostic() string {
	return buildCommand(NissanSelfDiagnosticResults)
}

func (Nissan) ClearSelfDiagnostic() string {
	return buildCommand(NissanClearSelfDiagnosticResults)
}

func (Nissan) SwitchDiagnosticMode(mode byte) string {
	return buildCommand(NissanSwitchDiagnosticMode, mode)
}

// ActiveTest drives an actuator, state 0x01 activates and 0x00 releases it.
func (Nissan) ActiveTest(testID, state byte) string {
	return buildCommand(NissanActiveTest, testID, state)
}

func (Nissan) ReadWorkSupport(address uint16, length byte) string {
	return buildCommand(NissanReadWorkSupport, append(be16(address), length)...)
}

func (Nissan) WriteRAM(address uint16, data []byte) string {
	return buildCommand(NissanWriteRAM, append(be16(address), data...)...)
}

func (Nissan) ReadROM(address uint16, length byte) string {
	return buildCommand(NissanReadROM, append(be16(address), length)...)
}

// ParseResponse treats a leading 0xFF as an ECU error and otherwise returns the whole reply.
func (Nissan) ParseResponse(hex string) ([]byte, error) {
	raw, err := utils.HexStringToBytes(hex)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, utils.ErrEmptyResponse
	}
	if raw[0] == nissanErrorByte {
		return nil, fmt.Errorf("%w: %s", ErrECUReported, hex)
	}
	return raw, nil
}
