// Package spike holds detected spike events and the bounded logs that store them.
package spike

import (
	"errors"
	"fmt"
)

// ErrCapacity indicates a spike log is full. It is a sizing error, never a
// reason to drop spikes silently.
var ErrCapacity = errors.New("spike log capacity exceeded")

// Event is a single detected spike.
type Event struct {
	// Location is the global sample index: bufferIndex*bufferSize + localIndex
	Location int
	// Amplitude is the peak-to-peak amplitude of the raw signal window
	Amplitude float64
}

// Log is an append-only list of events with a fixed capacity.
type Log struct {
	events   []Event
	capacity int
}

// NewLog creates an empty log that accepts at most capacity events.
func NewLog(capacity int) *Log {
	return &Log{capacity: capacity}
}

// Append adds events to the log. Either all of them are stored or, when they
// would not fit, none are and ErrCapacity is returned.
func (l *Log) Append(events ...Event) error {
	if len(l.events)+len(events) > l.capacity {
		return fmt.Errorf("%w: %d stored + %d new > %d", ErrCapacity, len(l.events), len(events), l.capacity)
	}
	l.events = append(l.events, events...)
	return nil
}

// Len returns the number of stored events.
func (l *Log) Len() int {
	return len(l.events)
}

// Cap returns the configured capacity.
func (l *Log) Cap() int {
	return l.capacity
}

// Events returns the stored events. The slice must not be modified.
func (l *Log) Events() []Event {
	return l.events
}
