package gpio

import (
	"sync"
	"time"
)

// FakeWriter is a test double that records every level it is driven to.
type FakeWriter struct {
	mu sync.Mutex

	// Values contains every level passed to Set, in order.
	Values []bool

	// SetError, if set, will be returned by Set and the level is not recorded.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeWriter creates a FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// Set records the level.
func (f *FakeWriter) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, on)
	return nil
}

// Level returns the last level driven, false if never driven.
func (f *FakeWriter) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return false
	}
	return f.Values[len(f.Values)-1]
}

// Writes returns how many times Set succeeded.
func (f *FakeWriter) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Values)
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeSensor lets tests inject falling edges.
type FakeSensor struct {
	handler EdgeHandler

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSensor creates a FakeSensor delivering edges to handler.
func NewFakeSensor(handler EdgeHandler) *FakeSensor {
	return &FakeSensor{handler: handler}
}

// Edge delivers a falling edge with the given kernel timestamp.
func (f *FakeSensor) Edge(ts time.Duration) {
	f.handler(ts)
}

// Close marks the sensor as closed.
func (f *FakeSensor) Close() error {
	f.Closed = true
	return nil
}
