// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface.

package reactor

import "time"

// Events is a readiness bit set.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether all bits of o are set.
func (e Events) Has(o Events) bool { return e&o == o }

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd     int
	Token  uint32 // caller-supplied value from Add/Modify
	Events Events
}

// Poller multiplexes readiness of many descriptors. Add, Modify, Remove and
// Wait are called from the owning goroutine only; Wake is safe from any
// goroutine.
type Poller interface {
	// Add registers fd for the given interest.
	Add(fd int, token uint32, interest Events) error

	// Modify replaces the interest set of a registered fd.
	Modify(fd int, token uint32, interest Events) error

	// Remove unregisters fd. It must be called before fd is closed.
	Remove(fd int) error

	// Wait blocks until readiness, a Wake, or timeout elapses (negative
	// blocks indefinitely) and fills events. Wakeups are not reported as
	// events.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Wake interrupts a concurrent or the next Wait.
	Wake() error

	// Close releases the poller's descriptors.
	Close() error
}
