package canbus

import (
	"fmt"
	"strings"
)

// MaxDLC is the payload size of a classic CAN frame
const MaxDLC = 8

// CanFrame represents a CAN bus data frame with an 11-bit identifier
type CanFrame struct {
	ID   uint16   // CAN identifier
	DLC  uint8    // Data Length Code (0-8)
	Data [8]uint8 // Data payload
}

// NewFrame copies up to 8 bytes of data into a frame addressed to id
func NewFrame(id uint16, data []byte) (*CanFrame, error) {
	if len(data) > MaxDLC {
		return nil, fmt.Errorf("can't send more than %d bytes in one frame, got %d", MaxDLC, len(data))
	}
	f := &CanFrame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Payload returns the bytes covered by the DLC
func (f *CanFrame) Payload() []byte {
	dlc := f.DLC
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	return f.Data[:dlc]
}

// String method to provide a human-readable representation of the CAN frame
func (f *CanFrame) String() string {
	payload := f.Payload()
	formattedData := make([]string, len(payload))
	for i, b := range payload {
		formattedData[i] = fmt.Sprintf("0x%02X", b)
	}
	return fmt.Sprintf("ID: 0x%03X, DLC: %d, Data: %s", f.ID, f.DLC, strings.Join(formattedData, " "))
}
