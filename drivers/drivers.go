package drivers

import (
	"context"

	"vehiclediag/canbus"
)

// Driver moves single CAN frames between the tester and the bus.
type Driver interface {
	SendFrame(ctx context.Context, frame *canbus.CanFrame) error
	SubscribeReadFrames() chan *canbus.CanFrame
	UnsubscribeReadFrames(ch chan *canbus.CanFrame)
	Cleanup()
	String() string
}
