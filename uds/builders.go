package uds

import (
	"fmt"

	"vehiclediag/utils"
)

// Defaults for the memory access builders
const (
	DefaultAddressLength = 3
	DefaultSizeLength    = 2
)

// AllDTCGroups clears every stored code
const AllDTCGroups uint32 = 0xFFFFFF

// DefaultDTCStatusMask matches every status bit
const DefaultDTCStatusMask byte = 0xFF

// MaxSecurityLevel keeps the key subfunction 2*level below the suppress bit
const MaxSecurityLevel = 0x3F

const (
	// addressAndLengthFormat is the fixed 4 byte address, 4 byte size format of upload/download requests
	addressAndLengthFormat byte = 0x44
	maxNibble                   = 0x0F
)

// BuildCommand renders serviceID followed by parameters as canonical hex.
// Every request builder in this package goes through it.
func BuildCommand(serviceID byte, parameters ...byte) string {
	raw := make([]byte, 0, 1+len(parameters))
	raw = append(raw, serviceID)
	raw = append(raw, parameters...)
	return utils.BytesToHexString(raw)
}

func DiagnosticSessionControl(sessionType byte) string {
	return BuildCommand(ServiceDiagnosticSessionControl, sessionType)
}

func ECUReset(resetType byte) string {
	return BuildCommand(ServiceECUReset, resetType)
}

// SecurityAccessRequestSeed requests a seed for level using the odd subfunction 2*level-1.
func SecurityAccessRequestSeed(level int) (string, error) {
	if err := checkSecurityLevel(level); err != nil {
		return "", err
	}
	return BuildCommand(ServiceSecurityAccess, byte(level*2-1)), nil
}

// SecurityAccessSendKey submits keyHex for level using the even subfunction 2*level.
func SecurityAccessSendKey(level int, keyHex string) (string, error) {
	if err := checkSecurityLevel(level); err != nil {
		return "", err
	}
	key, err := utils.HexStringToBytes(keyHex)
	if err != nil {
		return "", fmt.Errorf("key: %w", err)
	}
	return BuildCommand(ServiceSecurityAccess, append([]byte{byte(level * 2)}, key...)...), nil
}

func checkSecurityLevel(level int) error {
	if level < 1 || level > MaxSecurityLevel {
		return fmt.Errorf("%w: security level %d outside 1-%d", utils.ErrInvalidInput, level, MaxSecurityLevel)
	}
	return nil
}

// TesterPresent keeps a non-default session alive. With suppress set the ECU sends no reply.
func TesterPresent(suppress bool) string {
	if suppress {
		return BuildCommand(ServiceTesterPresent, SubfunctionSuppressPositiveResponse)
	}
	return BuildCommand(ServiceTesterPresent, SubfunctionZero)
}

func ReadDataByIdentifier(did uint16) string {
	return BuildCommand(ServiceReadDataByIdentifier, byte(did>>8), byte(did))
}

func WriteDataByIdentifier(did uint16, data []byte) string {
	return BuildCommand(ServiceWriteDataByIdentifier, append([]byte{byte(did >> 8), byte(did)}, data...)...)
}

// ReadMemoryByAddress packs the address and size field lengths into the first parameter
// byte, address length in the high nibble. DefaultAddressLength and DefaultSizeLength
// are the usual values.
func ReadMemoryByAddress(address, size uint64, addressLength, sizeLength int) (string, error) {
	if err := checkFieldLength("address length", addressLength); err != nil {
		return "", err
	}
	if err := checkFieldLength("size length", sizeLength); err != nil {
		return "", err
	}
	if err := utils.CheckFits("address", address, addressLength); err != nil {
		return "", err
	}
	if err := utils.CheckFits("size", size, sizeLength); err != nil {
		return "", err
	}

	params := []byte{byte(addressLength<<4 | sizeLength)}
	params = append(params, utils.NumberToBytes(address, addressLength)...)
	params = append(params, utils.NumberToBytes(size, sizeLength)...)
	return BuildCommand(ServiceReadMemoryByAddress, params...), nil
}

// WriteMemoryByAddress carries the data length in the low nibble of the format byte,
// so at most 15 bytes can be written per request.
func WriteMemoryByAddress(address uint64, data []byte, addressLength int) (string, error) {
	if err := checkFieldLength("address length", addressLength); err != nil {
		return "", err
	}
	if len(data) > maxNibble {
		return "", fmt.Errorf("%w: %d data bytes, at most %d fit the format byte", utils.ErrInvalidInput, len(data), maxNibble)
	}
	if err := utils.CheckFits("address", address, addressLength); err != nil {
		return "", err
	}

	params := []byte{byte(addressLength<<4 | len(data))}
	params = append(params, utils.NumberToBytes(address, addressLength)...)
	params = append(params, data...)
	return BuildCommand(ServiceWriteMemoryByAddress, params...), nil
}

func checkFieldLength(name string, length int) error {
	// Field lengths share a nibble but NumberToBytes packs at most a uint64
	if length < 1 || length > 8 {
		return fmt.Errorf("%w: %s %d outside 1-8", utils.ErrInvalidInput, name, length)
	}
	return nil
}

// ClearDTC clears the 3 byte DTC group, AllDTCGroups for everything.
func ClearDTC(group uint32) (string, error) {
	if err := utils.CheckFits("dtc group", uint64(group), 3); err != nil {
		return "", err
	}
	return BuildCommand(ServiceClearDiagnosticInformation, utils.NumberToBytes(uint64(group), 3)...), nil
}

func ReadDTC(reportType, statusMask byte) string {
	return BuildCommand(ServiceReadDTCInformation, reportType, statusMask)
}

func InputOutputControl(did uint16, controlParameter []byte, controlOption byte) string {
	params := []byte{byte(did >> 8), byte(did)}
	params = append(params, controlParameter...)
	params = append(params, controlOption)
	return BuildCommand(ServiceInputOutputControlByIdentifier, params...)
}

func RoutineControl(controlType byte, routineID uint16, options []byte) string {
	params := []byte{controlType, byte(routineID >> 8), byte(routineID)}
	params = append(params, options...)
	return BuildCommand(ServiceRoutineControl, params...)
}

// RequestDownload starts a tester to ECU transfer of size bytes at address.
func RequestDownload(address, size uint32, dataFormat byte) string {
	return BuildCommand(ServiceRequestDownload, transferParams(address, size, dataFormat)...)
}

// RequestUpload starts an ECU to tester transfer of size bytes at address.
func RequestUpload(address, size uint32, dataFormat byte) string {
	return BuildCommand(ServiceRequestUpload, transferParams(address, size, dataFormat)...)
}

func transferParams(address, size uint32, dataFormat byte) []byte {
	params := []byte{dataFormat, addressAndLengthFormat}
	params = append(params, utils.NumberToBytes(uint64(address), 4)...)
	return append(params, utils.NumberToBytes(uint64(size), 4)...)
}

func TransferData(blockSequenceCounter byte, data []byte) string {
	return BuildCommand(ServiceTransferData, append([]byte{blockSequenceCounter}, data...)...)
}

func RequestTransferExit() string {
	return BuildCommand(ServiceRequestTransferExit)
}

func ControlDTCSetting(settingType byte) string {
	return BuildCommand(ServiceControlDTCSetting, settingType)
}

func CommunicationControl(controlType, communicationType byte) string {
	return BuildCommand(ServiceCommunicationControl, controlType, communicationType)
}
