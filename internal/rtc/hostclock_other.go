//go:build !linux

package rtc

import (
	"errors"
	"time"
)

// SystemClock is unsupported off Linux.
type SystemClock struct{}

// Set always fails on this platform.
func (SystemClock) Set(time.Time) error {
	return errors.New("setting the system clock is only supported on linux")
}
