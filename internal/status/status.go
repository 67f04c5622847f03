// Package status provides a thread-safe status tracker for the light-controller
// daemon. It is read by the HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/schedule"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	LockoutMs   int64
	RevertMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	TopicPrefix string
	Timezone    string
}

// Counts tallies light transitions since start.
type Counts struct {
	On  int
	Off int
}

// Clock is the last reading taken from the RTC.
type Clock struct {
	Time        time.Time
	Temperature float64
	OK          bool // false after a failed read
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Light           light.State
	Counts          Counts
	Window          schedule.Window
	ScheduleEnabled bool
	Clock           Clock
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Light:     light.State{Owner: light.SourceSchedule},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetLight records a new light state and counts switches.
// It is safe to call from an Arbiter change hook.
func (t *Tracker) SetLight(st light.State) {
	t.mu.Lock()
	if st.On != t.snap.Light.On {
		if st.On {
			t.snap.Counts.On++
		} else {
			t.snap.Counts.Off++
		}
	}
	t.snap.Light = st
	t.mu.Unlock()
}

// SetSchedule records the schedule window and enabled flag.
func (t *Tracker) SetSchedule(w schedule.Window, enabled bool) {
	t.mu.Lock()
	t.snap.Window = w
	t.snap.ScheduleEnabled = enabled
	t.mu.Unlock()
}

// SetClock records a successful RTC reading.
func (t *Tracker) SetClock(now time.Time, celsius float64) {
	t.mu.Lock()
	t.snap.Clock = Clock{Time: now, Temperature: celsius, OK: true}
	t.mu.Unlock()
}

// SetClockFault marks the last RTC read as failed, keeping the previous reading.
func (t *Tracker) SetClockFault() {
	t.mu.Lock()
	t.snap.Clock.OK = false
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
