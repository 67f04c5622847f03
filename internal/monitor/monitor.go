// Package monitor runs the once-per-tick clock poll: it publishes time, date,
// temperature and light status when they change, and turns the light on and
// off at the edges of the schedule window.
package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/rtc"
)

// TemperatureStep is the smallest change in °C that is announced.
const TemperatureStep = 0.1

var (
	rtcReadErrors = metrics.NewCounter(`rtc_read_errors_total`)
	scheduleOn    = metrics.NewCounter(`schedule_edges_total{edge="start"}`)
	scheduleOff   = metrics.NewCounter(`schedule_edges_total{edge="end"}`)
)

// Clock is the RTC as seen by the monitor.
type Clock interface {
	Read() (time.Time, error)
	Temperature() float64
}

// Schedule reports whether the schedule wants the light on.
type Schedule interface {
	IsActive(now time.Time) bool
}

// Arbiter is the part of light.Arbiter the monitor drives.
type Arbiter interface {
	State() light.State
	RequestOn(light.Source) (bool, error)
	RequestOff(light.Source) (bool, error)
}

// Announcer publishes telemetry.
type Announcer interface {
	PublishStatus(status string) error
	PublishTemperature(celsius float64) error
	PublishTime(t time.Time) error
	PublishDate(t time.Time) error
}

// Reading is the latest RTC poll result.
type Reading struct {
	Time        time.Time
	Temperature float64
	OK          bool
}

// Monitor holds the announce watermarks and the schedule edge state.
type Monitor struct {
	clock Clock
	sched Schedule
	light Arbiter
	pub   Announcer
	log   *zap.SugaredLogger

	mu sync.Mutex

	// last announced values; empty means "announce on next tick"
	lastTemp   float64
	haveTemp   bool
	lastTime   string
	lastDate   string
	lastStatus string

	wasActive bool
	holding   bool // the schedule's rising edge turned the light on

	reading Reading
}

// New creates a Monitor.
func New(clock Clock, sched Schedule, l Arbiter, pub Announcer, log *zap.SugaredLogger) *Monitor {
	return &Monitor{
		clock: clock,
		sched: sched,
		light: l,
		pub:   pub,
		log:   log,
		reading: Reading{
			Temperature: rtc.TemperatureUnavailable,
		},
	}
}

// ResetWatermarks makes the next Tick announce time, date, temperature and
// status again. It is safe to call from any goroutine.
func (m *Monitor) ResetWatermarks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haveTemp = false
	m.lastTime = ""
	m.lastDate = ""
	m.lastStatus = ""
}

// Clock returns the most recent reading.
func (m *Monitor) Clock() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading
}

// Tick runs one poll cycle. An RTC read failure skips the rest of the cycle
// and is returned; nothing else is fatal.
func (m *Monitor) Tick() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	temp := m.clock.Temperature()
	if temp != rtc.TemperatureUnavailable {
		m.reading.Temperature = temp
		if !m.haveTemp || math.Abs(temp-m.lastTemp) >= TemperatureStep {
			if m.announce("temperature", m.pub.PublishTemperature(temp)) {
				m.lastTemp, m.haveTemp = temp, true
			}
		}
	}

	now, err := m.clock.Read()
	if err != nil {
		rtcReadErrors.Inc()
		m.reading.OK = false
		m.log.Warnw("rtc read failed, skipping cycle", "error", err)
		return fmt.Errorf("read rtc: %w", err)
	}
	m.reading.Time, m.reading.OK = now, true

	if s := now.Format("15:04"); s != m.lastTime {
		if m.announce("time", m.pub.PublishTime(now)) {
			m.lastTime = s
		}
	}
	if s := now.Format("02-01-2006"); s != m.lastDate {
		if m.announce("date", m.pub.PublishDate(now)) {
			m.lastDate = s
		}
	}

	m.scheduleEdge(now)

	if s := m.light.State().Status(); s != m.lastStatus {
		if m.announce("status", m.pub.PublishStatus(s)) {
			m.lastStatus = s
		}
	}
	return nil
}

// scheduleEdge acts only on transitions of the window, never on its level:
// an inactive window does not force the light off.
func (m *Monitor) scheduleEdge(now time.Time) {
	active := m.sched.IsActive(now)
	defer func() { m.wasActive = active }()

	switch {
	case active && !m.wasActive:
		scheduleOn.Inc()
		applied, err := m.light.RequestOn(light.SourceSchedule)
		if err != nil {
			m.log.Errorw("schedule start: turn on failed", "error", err)
		}
		m.holding = applied && err == nil
		m.log.Infow("schedule window started", "applied", m.holding)

	case !active && m.wasActive:
		scheduleOff.Inc()
		if !m.holding {
			m.log.Infow("schedule window ended, light not held by schedule")
			return
		}
		m.holding = false
		applied, err := m.light.RequestOff(light.SourceSchedule)
		if err != nil {
			m.log.Errorw("schedule end: turn off failed", "error", err)
			return
		}
		m.log.Infow("schedule window ended", "applied", applied)
	}
}

func (m *Monitor) announce(what string, err error) bool {
	if err != nil {
		m.log.Warnw("announce failed", "what", what, "error", err)
		return false
	}
	return true
}
