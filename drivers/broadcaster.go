package drivers

import (
	"sync"

	"github.com/pion/logging"

	"vehiclediag/canbus"
)

const subscriberBufferSize = 128

// Broadcaster fans received frames out to every subscriber.
type Broadcaster struct {
	subscribers map[chan *canbus.CanFrame]struct{}
	lock        sync.RWMutex
	log         logging.LeveledLogger
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(log logging.LeveledLogger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan *canbus.CanFrame]struct{}),
		log:         log,
	}
}

// Subscribe adds a new subscriber and returns a channel to receive frames.
func (b *Broadcaster) Subscribe() chan *canbus.CanFrame {
	ch := make(chan *canbus.CanFrame, subscriberBufferSize)
	b.lock.Lock()
	b.subscribers[ch] = struct{}{}
	b.lock.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Unknown or already removed channels are ignored.
func (b *Broadcaster) Unsubscribe(ch chan *canbus.CanFrame) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast sends a frame to all subscribers without blocking on slow ones.
func (b *Broadcaster) Broadcast(frame *canbus.CanFrame) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			b.log.Warnf("slow subscriber, frame channel is full, dropping %s", frame)
		}
	}
}

func (b *Broadcaster) Cleanup() {
	b.lock.Lock()
	for channel := range b.subscribers {
		delete(b.subscribers, channel)
		close(channel)
	}
	b.lock.Unlock()
}
