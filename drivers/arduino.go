package drivers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pion/logging"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"

	"vehiclediag/canbus"
)

const (
	ArduinoBaudRate           = 921600
	ArduinoStartMarker        = 0x7E
	ArduinoEndMarker          = 0x7F
	ArduinoEscapeChar         = 0x1B
	ArduinoACK                = 0x06
	ArduinoNACK               = 0x15
	ArduinoMaxRetries         = 3
	ArduinoPortOpenDelay      = 500 * time.Millisecond
	ArduinoReadTimeout        = 5 * time.Millisecond
	ArduinoACKTimeout         = 100 * time.Millisecond
	ArduinoRetryDelay         = 200 * time.Millisecond
	arduinoMinFrameBodyLength = 4 // ID high, ID low, DLC, checksum
	arduinoQueueSize          = 128
)

var (
	errDriverNotRunning = errors.New("driver is not running")
	errNACK             = errors.New("NACK received from adapter")
	errACKTimeout       = errors.New("ACK timeout")
	errInvalidEscape    = errors.New("invalid escape sequence")
)

// ArduinoDriver bridges CAN frames over a serial link to an Arduino running the
// stuffed framing firmware: [0x7E][ID hi][ID lo][DLC][data...][CRC8][0x7F].
type ArduinoDriver struct {
	isRunning        int32 // Use int32 for atomic operations
	portName         string
	baudRate         int
	port             io.ReadWriteCloser
	writeChan        chan []byte
	ackChan          chan bool
	frameBroadcaster *Broadcaster
	group            *errgroup.Group
	cancelFunc       context.CancelFunc
	sendLock         sync.Mutex
	log              logging.LeveledLogger
}

// ListPorts returns the serial ports known to the OS.
func ListPorts() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// ScanArduino picks the USB ports whose vendor matches a known Arduino or clone.
func ScanArduino(ports []*enumerator.PortDetails, baudRate int, log logging.LeveledLogger) []*ArduinoDriver {
	var found []*ArduinoDriver
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		// VID 2341 for Arduino, 1A86 for CH340, 2A03 for Arduino clone
		if port.VID == "2341" || port.VID == "1A86" || port.VID == "2A03" {
			found = append(found, NewArduinoDriver(port.Name, baudRate, log))
		}
	}
	return found
}

// NewArduinoDriver prepares a driver for portName. Nothing is opened until Open.
func NewArduinoDriver(portName string, baudRate int, log logging.LeveledLogger) *ArduinoDriver {
	if baudRate <= 0 {
		baudRate = ArduinoBaudRate
	}
	return &ArduinoDriver{
		portName: portName,
		baudRate: baudRate,
		log:      log,
	}
}

// String returns a string representation of the ArduinoDriver.
func (d *ArduinoDriver) String() string {
	return fmt.Sprintf("Arduino: %s", d.portName)
}

func (d *ArduinoDriver) PortName() string {
	return d.portName
}

// Open opens the serial port and starts the read and write loops.
func (d *ArduinoDriver) Open(ctx context.Context) error {
	// Give the port time to initialize if the Arduino has just been plugged in
	select {
	case <-time.After(ArduinoPortOpenDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	port, err := serial.Open(d.portName, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("opening port %s: %w", d.portName, err)
	}
	if err := port.SetReadTimeout(ArduinoReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}

	d.start(ctx, port)
	d.log.Infof("Arduino connected on port %s", d.portName)
	return nil
}

// start runs the driver loops on an already opened port.
func (d *ArduinoDriver) start(ctx context.Context, port io.ReadWriteCloser) {
	d.port = port
	d.writeChan = make(chan []byte, arduinoQueueSize)
	d.ackChan = make(chan bool, arduinoQueueSize)
	d.frameBroadcaster = NewBroadcaster(d.log)

	ctx, d.cancelFunc = context.WithCancel(ctx)
	var gctx context.Context
	d.group, gctx = errgroup.WithContext(ctx)

	atomic.StoreInt32(&d.isRunning, 1)
	d.group.Go(func() error { return d.readFramesFromSerial(gctx) })
	d.group.Go(func() error { return d.writeFramesToSerial(gctx) })
}

// Cleanup stops the driver and releases all resources.
func (d *ArduinoDriver) Cleanup() {
	if !atomic.CompareAndSwapInt32(&d.isRunning, 1, 0) {
		// If isRunning was not 1, Cleanup has already been called
		return
	}

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	// Closing the port unblocks the reader
	if err := d.port.Close(); err != nil {
		d.log.Warnf("closing port: %v", err)
	}

	if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Debugf("driver loops stopped: %v", err)
	}

	d.frameBroadcaster.Cleanup()
	d.log.Infof("serial port %s closed", d.portName)
}

// SendFrame sends a CAN bus frame to the Arduino and waits for its ACK,
// retrying with exponential backoff on NACK or ACK timeout.
func (d *ArduinoDriver) SendFrame(ctx context.Context, frame *canbus.CanFrame) error {
	if atomic.LoadInt32(&d.isRunning) == 0 {
		return errDriverNotRunning
	}

	// One frame in flight so ACKs can't be attributed to the wrong frame
	d.sendLock.Lock()
	defer d.sendLock.Unlock()

	d.log.Tracef("send: %s", frame)
	frameBytes := createFrameBytes(frame)

	return retry.Do(
		func() error {
			select {
			case d.writeChan <- frameBytes:
			case <-ctx.Done():
				return retry.Unrecoverable(ctx.Err())
			}

			select {
			case ack := <-d.ackChan:
				if ack {
					return nil
				}
				return errNACK
			case <-time.After(ArduinoACKTimeout):
				return errACKTimeout
			case <-ctx.Done():
				return retry.Unrecoverable(ctx.Err())
			}
		},
		retry.Context(ctx),
		retry.Attempts(ArduinoMaxRetries),
		retry.Delay(ArduinoRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.log.Warnf("%v, retrying send of %s (attempt %d)", err, frame, n+2)
		}),
	)
}

// SubscribeReadFrames allows a subscriber to receive broadcasted CAN frames.
func (d *ArduinoDriver) SubscribeReadFrames() chan *canbus.CanFrame {
	return d.frameBroadcaster.Subscribe()
}

// UnsubscribeReadFrames removes a subscriber from receiving broadcasted CAN frames.
func (d *ArduinoDriver) UnsubscribeReadFrames(ch chan *canbus.CanFrame) {
	d.frameBroadcaster.Unsubscribe(ch)
}

// readFramesFromSerial assembles stuffed frames from the port, acknowledges them and broadcasts them.
func (d *ArduinoDriver) readFramesFromSerial(ctx context.Context) error {
	reader := bufio.NewReader(d.port)
	for {
		body, ack, err := readPacket(reader)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, io.ErrNoProgress):
			// Read timeouts with nothing on the wire
			continue
		case errors.Is(err, errInvalidEscape):
			d.log.Warn(err.Error())
			d.writeResponse(ArduinoNACK)
			continue
		case err != nil:
			d.log.Errorf("reading from port: %v", err)
			return err
		}

		if body == nil {
			select {
			case d.ackChan <- ack == ArduinoACK:
			default:
				d.log.Warn("ackChan is full, dropping ACK/NACK")
			}
			continue
		}

		frame, err := parseFrameBody(body)
		if err != nil {
			d.log.Warnf("discarding frame: %v", err)
			d.writeResponse(ArduinoNACK)
			continue
		}
		d.writeResponse(ArduinoACK)
		d.log.Tracef("read: %s", frame)
		d.frameBroadcaster.Broadcast(frame)
	}
}

// writeFramesToSerial reads frames from the write channel and writes them to the serial port.
func (d *ArduinoDriver) writeFramesToSerial(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frameBytes := <-d.writeChan:
			if _, err := d.port.Write(frameBytes); err != nil {
				d.log.Errorf("writing to port: %v", err)
				atomic.StoreInt32(&d.isRunning, 0)
				return err
			}
		}
	}
}

// writeResponse queues an ACK or NACK for the Arduino.
func (d *ArduinoDriver) writeResponse(response byte) {
	select {
	case d.writeChan <- []byte{response}:
	default:
		d.log.Warn("write channel is full, cannot send response")
	}
}

// readPacket blocks until a bare ACK/NACK byte or a complete frame body has been read.
// For an ACK/NACK body is nil and ack holds the byte.
func readPacket(r io.ByteReader) (body []byte, ack byte, err error) {
	inFrame := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		switch {
		case !inFrame && (b == ArduinoACK || b == ArduinoNACK):
			return nil, b, nil
		case b == ArduinoStartMarker:
			inFrame = true
			body = body[:0]
		case b == ArduinoEndMarker && inFrame:
			if body == nil {
				body = []byte{}
			}
			return body, 0, nil
		case inFrame && b == ArduinoEscapeChar:
			next, err := r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			unstuffed, err := unstuffByte(next)
			if err != nil {
				return nil, 0, err
			}
			body = append(body, unstuffed)
		case inFrame:
			body = append(body, b)
		}
	}
}

// parseFrameBody validates DLC and checksum of an unstuffed frame body.
func parseFrameBody(body []byte) (*canbus.CanFrame, error) {
	if len(body) < arduinoMinFrameBodyLength {
		return nil, fmt.Errorf("incomplete frame received (%d bytes)", len(body))
	}
	dlc := body[2]
	if dlc > canbus.MaxDLC {
		return nil, fmt.Errorf("invalid DLC value: %d", dlc)
	}
	if len(body) < 3+int(dlc)+1 {
		return nil, fmt.Errorf("incomplete frame received, expected %d bytes but got %d", 3+int(dlc)+1, len(body))
	}
	frame := &canbus.CanFrame{
		ID:  uint16(body[0])<<8 | uint16(body[1]),
		DLC: dlc,
	}
	copy(frame.Data[:], body[3:3+dlc])

	receivedChecksum := body[3+dlc]
	if calculated := calculateCRC8(frame); calculated != receivedChecksum {
		return nil, fmt.Errorf("checksum mismatch: received 0x%02X, calculated 0x%02X", receivedChecksum, calculated)
	}
	return frame, nil
}

// createFrameBytes constructs the byte sequence for a CAN bus frame with byte stuffing.
//
//   - Start Marker 0x7E, End Marker 0x7F, Escape Character 0x1B
//   - a data byte equal to a marker or the escape is sent as the escape followed by 0x01 (start), 0x02 (end) or 0x03 (escape)
func createFrameBytes(frame *canbus.CanFrame) []byte {
	frameBytes := []byte{ArduinoStartMarker}
	for _, b := range frameToBytes(frame) {
		frameBytes = stuffByte(b, frameBytes)
	}
	return append(frameBytes, ArduinoEndMarker)
}

// frameToBytes converts the CAN frame into [ID hi][ID lo][DLC][data][CRC8].
func frameToBytes(frame *canbus.CanFrame) []byte {
	out := []byte{byte(frame.ID >> 8), byte(frame.ID), frame.DLC}
	out = append(out, frame.Payload()...)
	return append(out, calculateCRC8(frame))
}

func stuffByte(b byte, output []byte) []byte {
	switch b {
	case ArduinoStartMarker:
		return append(output, ArduinoEscapeChar, 0x01)
	case ArduinoEndMarker:
		return append(output, ArduinoEscapeChar, 0x02)
	case ArduinoEscapeChar:
		return append(output, ArduinoEscapeChar, 0x03)
	default:
		return append(output, b)
	}
}

func unstuffByte(b byte) (byte, error) {
	switch b {
	case 0x01:
		return ArduinoStartMarker, nil
	case 0x02:
		return ArduinoEndMarker, nil
	case 0x03:
		return ArduinoEscapeChar, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", errInvalidEscape, b)
	}
}

// calculateCRC8 computes the CRC-8-CCITT checksum over ID, DLC and data.
func calculateCRC8(frame *canbus.CanFrame) byte {
	const polynomial = byte(0x07)
	crc := byte(0x00)

	xorShift := func(crc, b byte) byte {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
		return crc
	}

	crc = xorShift(crc, byte(frame.ID>>8))
	crc = xorShift(crc, byte(frame.ID))
	crc = xorShift(crc, frame.DLC)
	for _, b := range frame.Payload() {
		crc = xorShift(crc, b)
	}
	return crc
}
