// Package gpio drives the light relay and status LED and delivers sensor edges,
// with a hardware abstraction so the rest of the daemon runs without a board.
// The real implementation uses the Linux GPIO character device.
package gpio

import "time"

// Writer drives the light outputs (relay and status LED together).
type Writer interface {
	// Set drives the outputs high for on, low for off.
	Set(on bool) error

	// Close drives the outputs low and releases GPIO resources.
	Close() error
}

// EdgeHandler receives the kernel timestamp of a sensor falling edge.
// It is called from the GPIO event goroutine and must not block.
type EdgeHandler func(ts time.Duration)

// Sensor delivers falling edges from the motion sensor line.
type Sensor interface {
	Close() error
}

// Default line offsets on gpiochip0.
const (
	DefaultChip      = "gpiochip0"
	DefaultPinRelay  = 2 // light relay
	DefaultPinLED    = 5 // status LED, mirrors the relay
	DefaultPinSensor = 4 // IR/motion sensor, active low
)
