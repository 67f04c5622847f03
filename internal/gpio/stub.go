//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(chipName string, pinRelay, pinLED int) (*RealWriter, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (w *RealWriter) Set(on bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *RealWriter) Close() error {
	return nil
}

// RealSensor is not available on non-Linux platforms.
type RealSensor struct{}

// NewRealSensor returns an error on non-Linux platforms.
func NewRealSensor(chipName string, pin int, handler EdgeHandler) (*RealSensor, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (s *RealSensor) Close() error {
	return nil
}
