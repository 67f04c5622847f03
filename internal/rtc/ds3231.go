// Package rtc talks to the DS3231 real-time clock, keeps the host clock in
// step with it, and syncs both from network time.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DS3231 bus address and register map.
const (
	Address = 0x68

	regSeconds = 0x00
	regMinutes = 0x01
	regHours   = 0x02
	regDay     = 0x03
	regDate    = 0x04
	regMonth   = 0x05
	regYear    = 0x06
	regControl = 0x0E
	regStatus  = 0x0F
	regTempMSB = 0x11
	regTempLSB = 0x12

	timeRegisters = 7

	// control: oscillator on, square wave off, interrupts disabled
	controlInit = 0x1C
)

// Control bits sharing registers with time digits.
const (
	maskSeconds = 0x7F // bit 7: oscillator stop flag on some parts
	maskHours   = 0x3F // bit 6: 12/24h select
	maskMonth   = 0x1F // bit 7: century
)

// TemperatureUnavailable is returned by Temperature when the bus read fails.
const TemperatureUnavailable = -999.0

var (
	// ErrBusTimeout is returned when exclusive bus access is not obtained in time.
	ErrBusTimeout = errors.New("i2c bus busy: timed out waiting for access")

	// ErrInvalidTime is returned when the registers do not hold a valid date.
	ErrInvalidTime = errors.New("rtc registers hold an invalid time")
)

var (
	busTimeouts      = metrics.NewCounter(`rtc_bus_timeouts_total`)
	busErrors        = metrics.NewCounter(`rtc_bus_errors_total`)
	tempReadFailures = metrics.NewCounter(`rtc_temperature_reads_failed_total`)
)

// Bus performs one combined write-then-read transaction with the chip.
// periph.io's *i2c.Dev satisfies it.
type Bus interface {
	Tx(w, r []byte) error
}

// Clock is the DS3231 driver. All register access is serialized; waiting for
// access is bounded by the bus timeout.
type Clock struct {
	bus     Bus
	sem     *semaphore.Weighted
	timeout time.Duration
	loc     *time.Location
	log     *zap.SugaredLogger
}

// NewClock creates a Clock. Register values are interpreted as wall time in loc.
func NewClock(bus Bus, loc *time.Location, timeout time.Duration, log *zap.SugaredLogger) *Clock {
	return &Clock{
		bus:     bus,
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
		loc:     loc,
		log:     log,
	}
}

// Location returns the zone the chip keeps time in.
func (c *Clock) Location() *time.Location {
	return c.loc
}

func (c *Clock) acquire() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		busTimeouts.Inc()
		return nil, ErrBusTimeout
	}
	return func() { c.sem.Release(1) }, nil
}

func (c *Clock) tx(w, r []byte) error {
	if err := c.bus.Tx(w, r); err != nil {
		busErrors.Inc()
		return err
	}
	return nil
}

// Init enables the oscillator and clears the status flags.
func (c *Clock) Init() error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	// Probe before configuring so a missing chip is reported as such.
	probe := make([]byte, 1)
	if err := c.tx([]byte{regSeconds}, probe); err != nil {
		return fmt.Errorf("probe rtc: %w", err)
	}
	if err := c.tx([]byte{regControl, controlInit}, nil); err != nil {
		return fmt.Errorf("write control register: %w", err)
	}
	if err := c.tx([]byte{regStatus, 0x00}, nil); err != nil {
		return fmt.Errorf("write status register: %w", err)
	}
	return nil
}

// Read returns the current time from a single burst read of the time registers.
func (c *Clock) Read() (time.Time, error) {
	release, err := c.acquire()
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	buf := make([]byte, timeRegisters)
	if err := c.tx([]byte{regSeconds}, buf); err != nil {
		return time.Time{}, fmt.Errorf("read time registers: %w", err)
	}
	return decodeTime(buf, c.loc)
}

// Write sets the chip time. All fields are encoded before anything is written,
// so an unrepresentable time leaves the chip untouched.
func (c *Clock) Write(t time.Time) error {
	regs, err := encodeTime(t.In(c.loc))
	if err != nil {
		return err
	}

	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	for i, v := range regs {
		reg := byte(regSeconds + i)
		if err := c.tx([]byte{reg, v}, nil); err != nil {
			return fmt.Errorf("write register 0x%02X: %w", reg, err)
		}
	}
	return nil
}

// ReadTemperature returns the die temperature in °C with 0.25° resolution.
func (c *Clock) ReadTemperature() (float64, error) {
	release, err := c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	buf := make([]byte, 2)
	if err := c.tx([]byte{regTempMSB}, buf); err != nil {
		return 0, fmt.Errorf("read temperature registers: %w", err)
	}
	return decodeTemperature(buf[0], buf[1]), nil
}

// Temperature is ReadTemperature for callers that must not stall on a fault:
// it returns TemperatureUnavailable instead of an error.
func (c *Clock) Temperature() float64 {
	v, err := c.ReadTemperature()
	if err != nil {
		tempReadFailures.Inc()
		c.log.Warnw("temperature read failed", "error", err)
		return TemperatureUnavailable
	}
	return v
}

func decodeTemperature(msb, lsb byte) float64 {
	// msb is a signed whole-degree value, lsb bits 7..6 are quarter degrees
	return float64(int8(msb)) + float64(lsb>>6)*0.25
}

func decodeTime(b []byte, loc *time.Location) (time.Time, error) {
	var v [timeRegisters]int
	masks := [timeRegisters]byte{maskSeconds, 0xFF, maskHours, 0x07, 0xFF, maskMonth, 0xFF}
	for i := range v {
		n, err := FromBCD(b[i] & masks[i])
		if err != nil {
			return time.Time{}, fmt.Errorf("register 0x%02X: %w", regSeconds+i, err)
		}
		v[i] = n
	}

	sec, min, hour := v[regSeconds], v[regMinutes], v[regHours]
	day, month, year := v[regDate], time.Month(v[regMonth]), 2000+v[regYear]
	if sec > 59 || min > 59 || hour > 23 || day < 1 || month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("%w: %02d-%02d-%04d %02d:%02d:%02d", ErrInvalidTime, day, month, year, hour, min, sec)
	}

	t := time.Date(year, month, day, hour, min, sec, 0, loc)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: day %d not in %s %d", ErrInvalidTime, day, month, year)
	}
	return t, nil
}

func encodeTime(t time.Time) ([timeRegisters]byte, error) {
	var regs [timeRegisters]byte
	fields := [timeRegisters]int{
		regSeconds: t.Second(),
		regMinutes: t.Minute(),
		regHours:   t.Hour(),
		regDay:     int(t.Weekday()) + 1, // chip counts 1-7
		regDate:    t.Day(),
		regMonth:   int(t.Month()),
		regYear:    t.Year() - 2000,
	}
	for i, f := range fields {
		b, err := ToBCD(f)
		if err != nil {
			return regs, fmt.Errorf("encode register 0x%02X: %w", regSeconds+i, err)
		}
		regs[i] = b
	}
	return regs, nil
}
