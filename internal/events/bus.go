// Package events implements the ordered multi-producer/single-consumer event
// channel between the protocol engine and the host UI. The host drains the
// bus on its own cadence; a Yield marker lets a drain pass stop early so
// consumer-side handling that re-enqueues events (materializing a chat,
// refreshing its members) never runs inside the same tight tick that would
// deadlock against the producers.
package events

import (
	"github.com/webchat-console/webchat/internal/interfaces"
)

// DefaultCapacity buffers enough events that bursty login bootstraps (whole
// contact lists) do not stall the protocol goroutines between host ticks.
const DefaultCapacity = 256

// Bus is a buffered channel of typed events. Producers may post from any
// goroutine; Drain must only be called from the single consumer.
type Bus struct {
	ch chan interfaces.Event
}

// New creates a bus with the default capacity
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a bus with an explicit buffer size
func NewWithCapacity(n int) *Bus {
	return &Bus{ch: make(chan interfaces.Event, n)}
}

// Post enqueues an event in arrival order, blocking if the buffer is full
func (b *Bus) Post(ev interfaces.Event) {
	b.ch <- ev
}

// PostYield enqueues a Yield marker immediately followed by ev, so the
// consumer finishes its current drain pass before handling ev.
func (b *Bus) PostYield(ev interfaces.Event) {
	b.ch <- interfaces.Yield{}
	b.ch <- ev
}

// Drain passes pending events to handle until the queue is empty or a Yield
// marker is consumed, and reports how many events were handled. The Yield
// marker itself is consumed but not handed to the handler.
func (b *Bus) Drain(handle func(interfaces.Event)) int {
	n := 0
	for {
		select {
		case ev := <-b.ch:
			if _, yield := ev.(interfaces.Yield); yield {
				return n
			}
			handle(ev)
			n++
		default:
			return n
		}
	}
}

// Pending reports the number of buffered events, for tests and diagnostics
func (b *Bus) Pending() int {
	return len(b.ch)
}
