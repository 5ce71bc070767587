// Package isotp implements ISO 15765-2 segmentation and reassembly for classic
// 8 byte CAN frames, plus a tester-side transport that drives it over a frame driver.
package isotp

import (
	"errors"
	"fmt"
	"time"

	"vehiclediag/canbus"
	"vehiclediag/utils"
)

// FrameKind is the PCI type nibble (upper nibble of byte 0).
type FrameKind byte

const (
	KindSingle      FrameKind = 0x0
	KindFirst       FrameKind = 0x1
	KindConsecutive FrameKind = 0x2
	KindFlowControl FrameKind = 0x3
)

func (k FrameKind) String() string {
	switch k {
	case KindSingle:
		return "Single"
	case KindFirst:
		return "First"
	case KindConsecutive:
		return "Consecutive"
	case KindFlowControl:
		return "FlowControl"
	default:
		return fmt.Sprintf("0x%X", byte(k))
	}
}

// FlowStatus is the lower nibble of a flow control PCI byte.
type FlowStatus byte

const (
	FlowContinue FlowStatus = 0x0
	FlowWait     FlowStatus = 0x1
	FlowOverflow FlowStatus = 0x2
)

func (s FlowStatus) String() string {
	switch s {
	case FlowContinue:
		return "Continue"
	case FlowWait:
		return "Wait"
	case FlowOverflow:
		return "Overflow"
	default:
		return fmt.Sprintf("0x%X", byte(s))
	}
}

const (
	// MaxPayloadLength is the largest message a 12-bit First frame length can declare
	MaxPayloadLength = 4095

	frameSize                = 8
	singleFrameCapacity      = 7
	firstFrameCapacity       = 6
	consecutiveFrameCapacity = 7
	flowControlSize          = 3
)

// ErrSequence is returned when consecutive frames are missing, duplicated or out of order
var ErrSequence = errors.New("isotp: consecutive frame sequence error")

// Frame is one ISO-TP protocol data unit as transmitted: PCI plus seven zero padded data bytes.
type Frame struct {
	Kind           FrameKind
	CanID          uint16
	Data           [frameSize]byte
	SequenceNumber byte   // Consecutive frames only
	TotalLength    uint16 // First frames only
}

// Bytes returns a copy of the 8 transmitted bytes
func (f Frame) Bytes() []byte {
	out := make([]byte, frameSize)
	copy(out, f.Data[:])
	return out
}

// Hex returns the transmitted bytes in canonical hex form
func (f Frame) Hex() string {
	return utils.BytesToHexString(f.Data[:])
}

// CanFrame converts the PDU into a full length CAN frame
func (f Frame) CanFrame() *canbus.CanFrame {
	return &canbus.CanFrame{ID: f.CanID, DLC: frameSize, Data: f.Data}
}

// Encode segments payload into a Single frame or a First frame followed by
// Consecutive frames. Sequence numbers start at 1 and wrap from 15 back to 1.
func Encode(payload []byte, canID uint16) ([]Frame, error) {
	return encode(payload, canID, 1)
}

// encode lets the live transport choose the value following sequence number 15
// (1 for Encode, 0 for strict ISO 15765-2 peers).
func encode(payload []byte, canID uint16, afterWrap byte) ([]Frame, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", utils.ErrInvalidInput, len(payload), MaxPayloadLength)
	}

	if len(payload) <= singleFrameCapacity {
		f := Frame{Kind: KindSingle, CanID: canID}
		// Upper nibble is 0x0 (Single Frame) and lower nibble is length
		f.Data[0] = byte(KindSingle)<<4 | byte(len(payload))
		copy(f.Data[1:], payload)
		return []Frame{f}, nil
	}

	dataLength := uint16(len(payload))
	frames := make([]Frame, 0, 1+(len(payload)-firstFrameCapacity+consecutiveFrameCapacity-1)/consecutiveFrameCapacity)

	first := Frame{Kind: KindFirst, CanID: canID, TotalLength: dataLength}
	// Lower nibble of byte 0 holds the upper 4 bits of the length, byte 1 the remaining 8
	first.Data[0] = byte(KindFirst)<<4 | byte(dataLength>>8)&0x0F
	first.Data[1] = byte(dataLength)
	copy(first.Data[2:], payload[:firstFrameCapacity])
	frames = append(frames, first)

	seq := byte(1)
	for offset := firstFrameCapacity; offset < len(payload); offset += consecutiveFrameCapacity {
		end := offset + consecutiveFrameCapacity
		if end > len(payload) {
			end = len(payload)
		}
		cf := Frame{Kind: KindConsecutive, CanID: canID, SequenceNumber: seq}
		cf.Data[0] = byte(KindConsecutive)<<4 | seq
		copy(cf.Data[1:], payload[offset:end])
		frames = append(frames, cf)
		seq = nextSequence(seq, afterWrap)
	}
	return frames, nil
}

func nextSequence(seq, afterWrap byte) byte {
	if seq >= 0x0F {
		return afterWrap
	}
	return seq + 1
}

// sequenceAccepted reports whether got may follow prev. After 15 both the
// ISO 15765-2 value (0) and the value produced by Encode (1) are accepted.
func sequenceAccepted(prev, got byte) bool {
	if prev == 0x0F {
		return got == 0x00 || got == 0x01
	}
	return got == prev+1
}

// Decode reassembles frames given in reception order. ok is false when there is
// nothing to decode: no frames, or a leading frame that is neither Single nor First.
// Frames other than Consecutive that follow a First frame are skipped.
func Decode(frames [][]byte) (payload []byte, ok bool, err error) {
	if len(frames) == 0 {
		return nil, false, nil
	}
	head := frames[0]
	if len(head) == 0 {
		return nil, false, fmt.Errorf("%w: empty frame", utils.ErrInvalidInput)
	}

	switch FrameKind(head[0] >> 4) {
	case KindSingle:
		length := int(head[0] & 0x0F)
		if length > singleFrameCapacity {
			return nil, false, fmt.Errorf("%w: single frame declares %d bytes", utils.ErrInvalidInput, length)
		}
		if len(head)-1 < length {
			return nil, false, fmt.Errorf("%w: single frame declares %d bytes but carries %d", utils.ErrInvalidInput, length, len(head)-1)
		}
		out := make([]byte, length)
		copy(out, head[1:1+length])
		return out, true, nil

	case KindFirst:
		if len(head) < 2 {
			return nil, false, fmt.Errorf("%w: first frame shorter than its header", utils.ErrInvalidInput)
		}
		dataLength := int(head[0]&0x0F)<<8 | int(head[1])
		if dataLength <= singleFrameCapacity {
			return nil, false, fmt.Errorf("%w: first frame declares %d bytes, a single frame must be used", utils.ErrInvalidInput, dataLength)
		}
		data := make([]byte, 0, dataLength+consecutiveFrameCapacity)
		data = append(data, head[2:]...)

		prev := byte(0)
		for i, frame := range frames[1:] {
			if len(frame) == 0 {
				return nil, false, fmt.Errorf("%w: empty frame at index %d", utils.ErrInvalidInput, i+1)
			}
			if FrameKind(frame[0]>>4) != KindConsecutive {
				continue
			}
			if len(data) >= dataLength {
				return nil, false, fmt.Errorf("%w: consecutive frame at index %d after message completed", ErrSequence, i+1)
			}
			seq := frame[0] & 0x0F
			if !sequenceAccepted(prev, seq) {
				return nil, false, fmt.Errorf("%w: got sequence number %d after %d", ErrSequence, seq, prev)
			}
			prev = seq
			data = append(data, frame[1:]...)
		}
		if len(data) < dataLength {
			return nil, false, fmt.Errorf("%w: reassembled %d of %d bytes", ErrSequence, len(data), dataLength)
		}
		return data[:dataLength], true, nil

	default:
		return nil, false, nil
	}
}

// DecodeHex is Decode for frames in canonical hex form
func DecodeHex(frames []string) ([]byte, bool, error) {
	raw := make([][]byte, len(frames))
	for i, f := range frames {
		b, err := utils.HexStringToBytes(f)
		if err != nil {
			return nil, false, fmt.Errorf("frame %d: %w", i, err)
		}
		raw[i] = b
	}
	return Decode(raw)
}

// FlowControl governs consecutive frame pacing.
type FlowControl struct {
	Status             FlowStatus
	BlockSize          byte // 0 means unlimited
	SeparationTimeCode byte
}

// SeparationTime resolves the STmin code carried by the frame
func (fc FlowControl) SeparationTime() time.Duration {
	return ResolveSeparationTime(fc.SeparationTimeCode)
}

// GenerateFlowControl builds the 3 byte flow control frame
func GenerateFlowControl(status FlowStatus, blockSize, separationTimeCode byte) []byte {
	return []byte{
		byte(KindFlowControl)<<4 | byte(status)&0x0F,
		blockSize,
		separationTimeCode,
	}
}

// ParseFlowControl is the inverse of GenerateFlowControl. Padding after the third byte is ignored.
func ParseFlowControl(frame []byte) (FlowControl, error) {
	if len(frame) < flowControlSize {
		return FlowControl{}, fmt.Errorf("%w: flow control frame has %d bytes", utils.ErrInvalidInput, len(frame))
	}
	if FrameKind(frame[0]>>4) != KindFlowControl {
		return FlowControl{}, fmt.Errorf("%w: frame type %s is not flow control", utils.ErrInvalidInput, FrameKind(frame[0]>>4))
	}
	status := FlowStatus(frame[0] & 0x0F)
	if status > FlowOverflow {
		return FlowControl{}, fmt.Errorf("%w: reserved flow status 0x%X", utils.ErrInvalidInput, byte(status))
	}
	return FlowControl{
		Status:             status,
		BlockSize:          frame[1],
		SeparationTimeCode: frame[2],
	}, nil
}

// ResolveSeparationTime decodes an STmin byte. 0x00-0x7F are milliseconds,
// 0xF1-0xF9 are 100-900 microseconds and every other value is reserved and reads as 0.
func ResolveSeparationTime(code byte) time.Duration {
	switch {
	case code <= 0x7F:
		return time.Duration(code) * time.Millisecond
	case code >= 0xF1 && code <= 0xF9:
		return time.Duration(code-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}
