package isotp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"vehiclediag/canbus"
	"vehiclediag/drivers"
	"vehiclediag/utils"
)

const (
	DefaultFrameTimeout = 1000 * time.Millisecond
	// maxWaitFrames bounds how many FC Wait frames are honoured before giving up
	maxWaitFrames = 10
)

var (
	errFlowControlTimeout = fmt.Errorf("%w: flow control frame from ecu", utils.ErrTimeout)
	errConsecutiveTimeout = fmt.Errorf("%w: consecutive frame from ecu", utils.ErrTimeout)
	errOverflow           = errors.New("isotp: ecu reported receive buffer overflow")
	errTooManyWaits       = errors.New("isotp: ecu kept sending flow control wait")
	errTransportClosed    = errors.New("isotp: transport closed")
)

// ErrInterrupted is returned by Write when the ECU answered with a complete
// Single frame instead of flow control. The answer is kept for the next Read.
var ErrInterrupted = errors.New("isotp: ecu replied before flow control")

// TransportConfig addresses a single tester/ECU pair.
type TransportConfig struct {
	TesterID     uint16
	ECUID        uint16
	FrameTimeout time.Duration
	// WrapToZero makes the sequence number after 15 be 0 as ISO 15765-2 requires.
	// When false it wraps to 1, matching Encode.
	WrapToZero bool
	// BlockSize and SeparationTimeCode are advertised in the flow control frames we send
	BlockSize          byte
	SeparationTimeCode byte
}

// Transport is the tester side of an ISO-TP link over a frame driver.
// Only one Write or Read runs at a time.
type Transport struct {
	driver drivers.Driver
	cfg    TransportConfig
	frames chan *canbus.CanFrame
	log    logging.LeveledLogger
	lock   sync.Mutex
	closed bool
	sleep  func(time.Duration)
	// early holds a reply that arrived while a Write waited for flow control
	early []byte
}

// NewTransport subscribes to the driver immediately so no ECU frame is missed between
// a request going out and the response being read.
func NewTransport(driver drivers.Driver, cfg TransportConfig, log logging.LeveledLogger) *Transport {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	return &Transport{
		driver: driver,
		cfg:    cfg,
		frames: driver.SubscribeReadFrames(),
		log:    log,
		sleep:  time.Sleep,
	}
}

// Close releases the driver subscription.
func (t *Transport) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.driver.UnsubscribeReadFrames(t.frames)
}

// Write sends payload to the ECU, segmenting it when it does not fit a single frame.
func (t *Transport) Write(ctx context.Context, payload []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return errTransportClosed
	}

	afterWrap := byte(1)
	if t.cfg.WrapToZero {
		afterWrap = 0
	}
	pdus, err := encode(payload, t.cfg.TesterID, afterWrap)
	if err != nil {
		return err
	}

	t.drain()
	t.early = nil
	t.log.Debugf("write %d bytes as %d frame(s): %s", len(payload), len(pdus), utils.BytesToHexString(payload))

	if err := t.driver.SendFrame(ctx, pdus[0].CanFrame()); err != nil {
		return err
	}
	if len(pdus) == 1 {
		return nil
	}

	consecutive := pdus[1:]
	for len(consecutive) > 0 {
		fc, err := t.waitForFlowControl(ctx)
		if err != nil {
			return err
		}
		separation := fc.SeparationTime()

		// Block size 0 means the rest can go without another flow control
		n := len(consecutive)
		if fc.BlockSize != 0 && int(fc.BlockSize) < n {
			n = int(fc.BlockSize)
		}
		for _, cf := range consecutive[:n] {
			// Wait for separation time from FC frame
			t.sleep(separation)
			if err := t.driver.SendFrame(ctx, cf.CanFrame()); err != nil {
				return err
			}
		}
		consecutive = consecutive[n:]
	}
	return nil
}

// waitForFlowControl returns the first Continue flow control from the ECU, following Wait frames.
func (t *Transport) waitForFlowControl(ctx context.Context) (FlowControl, error) {
	waits := 0
	for {
		frame, err := t.nextFrame(ctx, errFlowControlTimeout)
		if err != nil {
			return FlowControl{}, err
		}
		switch FrameKind(frame.Data[0] >> 4) {
		case KindFlowControl:
		case KindSingle:
			payload, _, err := Decode([][]byte{frame.Payload()})
			if err != nil {
				return FlowControl{}, err
			}
			t.log.Debugf("ecu replied %s instead of flow control", utils.BytesToHexString(payload))
			t.early = payload
			return FlowControl{}, ErrInterrupted
		default:
			continue
		}
		fc, err := ParseFlowControl(frame.Data[:])
		if err != nil {
			return FlowControl{}, err
		}
		t.log.Tracef("flow control %s bs=%d st=%s", fc.Status, fc.BlockSize, fc.SeparationTime())
		switch fc.Status {
		case FlowContinue:
			return fc, nil
		case FlowWait:
			waits++
			if waits > maxWaitFrames {
				return FlowControl{}, errTooManyWaits
			}
		case FlowOverflow:
			return FlowControl{}, errOverflow
		}
	}
}

// Read blocks until a complete message from the ECU has been reassembled.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return nil, errTransportClosed
	}
	if t.early != nil {
		payload := t.early
		t.early = nil
		return payload, nil
	}

	for {
		var frame *canbus.CanFrame
		select {
		case f, ok := <-t.frames:
			if !ok {
				return nil, errTransportClosed
			}
			frame = f
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if frame.ID != t.cfg.ECUID {
			continue
		}

		switch FrameKind(frame.Data[0] >> 4) {
		case KindSingle:
			payload, _, err := Decode([][]byte{frame.Payload()})
			if err != nil {
				return nil, err
			}
			t.log.Debugf("read %s", utils.BytesToHexString(payload))
			return payload, nil
		case KindFirst:
			return t.receiveMultiFrame(ctx, frame)
		default:
			// Ignore frames that don't start a message
			continue
		}
	}
}

func (t *Transport) receiveMultiFrame(ctx context.Context, first *canbus.CanFrame) ([]byte, error) {
	// Extract data length from the first two bytes of the first frame
	dataLength := int(first.Data[0]&0x0F)<<8 | int(first.Data[1])
	if dataLength <= singleFrameCapacity {
		return nil, fmt.Errorf("%w: first frame declares %d bytes", utils.ErrInvalidInput, dataLength)
	}

	data := make([]byte, 0, dataLength+consecutiveFrameCapacity)
	data = append(data, first.Data[2:]...)

	received := 0
	prev := byte(0)
	for len(data) < dataLength {
		// Ask for the next block before the ECU sends it
		if received == 0 || (t.cfg.BlockSize != 0 && received%int(t.cfg.BlockSize) == 0) {
			if err := t.sendFlowControl(ctx); err != nil {
				return nil, fmt.Errorf("failed to send flow control frame: %w", err)
			}
		}

		frame, err := t.nextFrame(ctx, errConsecutiveTimeout)
		if err != nil {
			return nil, err
		}
		if FrameKind(frame.Data[0]>>4) != KindConsecutive {
			// We are expecting consecutive frames; ignore any other frames
			continue
		}
		seq := frame.Data[0] & 0x0F
		if !sequenceAccepted(prev, seq) {
			return nil, fmt.Errorf("%w: got sequence number %d after %d", ErrSequence, seq, prev)
		}
		prev = seq
		received++
		data = append(data, frame.Data[1:]...)
	}
	payload := data[:dataLength]
	t.log.Debugf("read %d bytes in %d consecutive frame(s): %s", dataLength, received, utils.BytesToHexString(payload))
	return payload, nil
}

func (t *Transport) sendFlowControl(ctx context.Context) error {
	frame := &canbus.CanFrame{ID: t.cfg.TesterID, DLC: frameSize}
	copy(frame.Data[:], GenerateFlowControl(FlowContinue, t.cfg.BlockSize, t.cfg.SeparationTimeCode))
	return t.driver.SendFrame(ctx, frame)
}

// nextFrame returns the next frame from the ECU id, or timeoutErr after FrameTimeout.
func (t *Transport) nextFrame(ctx context.Context, timeoutErr error) (*canbus.CanFrame, error) {
	timer := time.NewTimer(t.cfg.FrameTimeout)
	defer timer.Stop()
	for {
		select {
		case frame, ok := <-t.frames:
			if !ok {
				return nil, errTransportClosed
			}
			if frame.ID != t.cfg.ECUID {
				continue
			}
			return frame, nil
		case <-timer.C:
			return nil, timeoutErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drain drops frames left over from an earlier exchange.
func (t *Transport) drain() {
	for {
		select {
		case frame, ok := <-t.frames:
			if !ok {
				return
			}
			t.log.Tracef("dropping stale frame %s", frame)
		default:
			return
		}
	}
}
