package rtc

import (
	"errors"
	"fmt"
)

var (
	// ErrBCDRange is returned when a value cannot fit in one packed-decimal byte.
	ErrBCDRange = errors.New("value out of BCD range 0-99")

	// ErrInvalidBCD is returned when a byte has a nibble above 9.
	ErrInvalidBCD = errors.New("invalid BCD byte")
)

// ToBCD packs v (0-99) into one byte: tens in the high nibble, units in the low.
func ToBCD(v int) (byte, error) {
	if v < 0 || v > 99 {
		return 0, fmt.Errorf("%w: %d", ErrBCDRange, v)
	}
	return byte(v/10)<<4 | byte(v%10), nil
}

// FromBCD unpacks a packed-decimal byte. Control bits must be masked off by
// the caller first.
func FromBCD(b byte) (int, error) {
	hi, lo := b>>4, b&0x0F
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidBCD, b)
	}
	return int(hi)*10 + int(lo), nil
}
