//go:build linux

package rtc

import (
	"time"

	"golang.org/x/sys/unix"
)

// SystemClock sets the kernel wall clock. It needs CAP_SYS_TIME.
type SystemClock struct{}

// Set sets the system time to t.
func (SystemClock) Set(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}
