package drivers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"

	"vehiclediag/canbus"
	vdlog "vehiclediag/logging"
)

func TestByteStuffing(t *testing.T) {
	// Test frames with various data, including special characters
	testFrames := []canbus.CanFrame{
		{
			ID:  0x123,
			DLC: 3,
			Data: [8]byte{
				0x7E, // StartMarker
				0x7F, // EndMarker
				0x1B, // EscapeChar
			},
		},
		{
			ID:   0x456,
			DLC:  5,
			Data: [8]byte{0x11, 0x22, 0x33, 0x44, 0x55},
		},
		{
			ID:   0x7FF,
			DLC:  8,
			Data: [8]byte{0x00, 0xFF, 0x7E, 0x7F, 0x1B, 0xAA, 0xBB, 0xCC},
		},
		{
			ID:  0x77E, // ID low byte is a start marker
			DLC: 0,
		},
	}

	for _, frame := range testFrames {
		stuffed := createFrameBytes(&frame)

		if stuffed[0] != ArduinoStartMarker || stuffed[len(stuffed)-1] != ArduinoEndMarker {
			t.Fatalf("stuffed frame not delimited: % X", stuffed)
		}
		for _, b := range stuffed[1 : len(stuffed)-1] {
			if b == ArduinoStartMarker || b == ArduinoEndMarker {
				t.Fatalf("unescaped marker inside stuffed frame: % X", stuffed)
			}
		}

		body, _, err := readPacket(bufio.NewReader(bytes.NewReader(stuffed)))
		if err != nil {
			t.Fatalf("Error unstuffing frame: %v", err)
		}

		parsedFrame, err := parseFrameBody(body)
		if err != nil {
			t.Fatalf("Error parsing frame: %v", err)
		}

		if parsedFrame.ID != frame.ID || parsedFrame.DLC != frame.DLC || parsedFrame.Data != frame.Data {
			t.Errorf("Frames do not match.\nOriginal: %+v\nParsed:   %+v", frame, parsedFrame)
		}
	}
}

func TestReadPacketAck(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{ArduinoACK, ArduinoNACK}))

	body, ack, err := readPacket(r)
	if err != nil || body != nil || ack != ArduinoACK {
		t.Fatalf("first packet: body=%v ack=0x%02X err=%v", body, ack, err)
	}
	body, ack, err = readPacket(r)
	if err != nil || body != nil || ack != ArduinoNACK {
		t.Fatalf("second packet: body=%v ack=0x%02X err=%v", body, ack, err)
	}
}

func TestReadPacketSkipsNoise(t *testing.T) {
	frame := canbus.CanFrame{ID: 0x7E8, DLC: 2, Data: [8]byte{0x50, 0x03}}
	stream := append([]byte{0x42, 0x00}, createFrameBytes(&frame)...)

	body, _, err := readPacket(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := parseFrameBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 0x7E8 || got.DLC != 2 {
		t.Errorf("got %s", got)
	}
}

func TestReadPacketInvalidEscape(t *testing.T) {
	stream := []byte{ArduinoStartMarker, 0x01, ArduinoEscapeChar, 0x09, ArduinoEndMarker}
	_, _, err := readPacket(bufio.NewReader(bytes.NewReader(stream)))
	if !errors.Is(err, errInvalidEscape) {
		t.Fatalf("expected errInvalidEscape, got %v", err)
	}
}

func TestParseFrameBodyErrors(t *testing.T) {
	good := frameToBytes(&canbus.CanFrame{ID: 0x7E8, DLC: 3, Data: [8]byte{1, 2, 3}})
	badChecksum := append([]byte(nil), good...)
	badChecksum[len(badChecksum)-1] ^= 0xFF

	tests := []struct {
		name string
		body []byte
	}{
		{"too short", []byte{0x07, 0xE8, 0x00}},
		{"dlc too large", []byte{0x07, 0xE8, 0x09, 0x00}},
		{"truncated data", good[:len(good)-2]},
		{"checksum mismatch", badChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFrameBody(tt.body); err == nil {
				t.Errorf("expected error for % X", tt.body)
			}
		})
	}
}

func TestCalculateCRC8(t *testing.T) {
	// CRC-8 (poly 0x07, init 0x00) over 07 E0 00
	frame := &canbus.CanFrame{ID: 0x7E0}
	crc := byte(0)
	for _, b := range []byte{0x07, 0xE0, 0x00} {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	if got := calculateCRC8(frame); got != crc {
		t.Errorf("calculateCRC8 = 0x%02X, want 0x%02X", got, crc)
	}
}

// readUntilEnd consumes bytes from the adapter side of the pipe until a full frame was written.
func readUntilEnd(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			t.Errorf("adapter read: %v", err)
			return out
		}
		out = append(out, buf[0])
		if buf[0] == ArduinoEndMarker {
			return out
		}
	}
}

func newPipeDriver(t *testing.T) (*ArduinoDriver, net.Conn) {
	t.Helper()
	host, adapter := net.Pipe()
	d := NewArduinoDriver("pipe", 0, vdlog.Discard())
	d.start(context.Background(), host)
	t.Cleanup(func() {
		adapter.Close()
		d.Cleanup()
	})
	return d, adapter
}

func TestSendFrameAck(t *testing.T) {
	d, adapter := newPipeDriver(t)
	frame := &canbus.CanFrame{ID: 0x7E0, DLC: 3, Data: [8]byte{0x02, 0x10, 0x03}}

	received := make(chan []byte, 1)
	go func() {
		raw := readUntilEnd(t, adapter)
		adapter.Write([]byte{ArduinoACK})
		received <- raw
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.SendFrame(ctx, frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if raw := <-received; !bytes.Equal(raw, createFrameBytes(frame)) {
		t.Errorf("adapter got % X, want % X", raw, createFrameBytes(frame))
	}
}

func TestSendFrameNACKRetries(t *testing.T) {
	d, adapter := newPipeDriver(t)
	frame := &canbus.CanFrame{ID: 0x7E0, DLC: 1, Data: [8]byte{0x3E}}

	go func() {
		readUntilEnd(t, adapter)
		adapter.Write([]byte{ArduinoNACK})
		readUntilEnd(t, adapter)
		adapter.Write([]byte{ArduinoACK})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.SendFrame(ctx, frame); err != nil {
		t.Fatalf("SendFrame after NACK: %v", err)
	}
}

func TestReceivedFrameIsBroadcastAndAcked(t *testing.T) {
	d, adapter := newPipeDriver(t)
	ch := d.SubscribeReadFrames()
	defer d.UnsubscribeReadFrames(ch)

	frame := &canbus.CanFrame{ID: 0x7E8, DLC: 8, Data: [8]byte{0x03, 0x7F, 0x22, 0x78}}
	ackRead := make(chan byte, 1)
	go func() {
		adapter.Write(createFrameBytes(frame))
		buf := make([]byte, 1)
		if _, err := adapter.Read(buf); err == nil {
			ackRead <- buf[0]
		}
	}()

	select {
	case got := <-ch:
		if got.ID != frame.ID || got.Data != frame.Data {
			t.Errorf("broadcast %s, want %s", got, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not broadcast")
	}

	select {
	case b := <-ackRead:
		if b != ArduinoACK {
			t.Errorf("driver answered 0x%02X, want ACK", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not acknowledge the frame")
	}
}

func TestSendFrameNotRunning(t *testing.T) {
	d := NewArduinoDriver("none", 0, vdlog.Discard())
	if err := d.SendFrame(context.Background(), &canbus.CanFrame{}); !errors.Is(err, errDriverNotRunning) {
		t.Fatalf("expected errDriverNotRunning, got %v", err)
	}
}

func TestScanArduino(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403"},
		{Name: "/dev/ttyS0", IsUSB: false},
	}
	found := ScanArduino(ports, 0, vdlog.Discard())
	if len(found) != 2 {
		t.Fatalf("found %d drivers, want 2", len(found))
	}
	if found[0].String() != "Arduino: /dev/ttyACM0" {
		t.Errorf("unexpected driver %s", found[0])
	}
	if found[1].baudRate != ArduinoBaudRate {
		t.Errorf("baud rate %d, want default %d", found[1].baudRate, ArduinoBaudRate)
	}
}

func TestBroadcasterUnsubscribeTwice(t *testing.T) {
	b := NewBroadcaster(vdlog.Discard())
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	b.Broadcast(&canbus.CanFrame{ID: 1})
}
