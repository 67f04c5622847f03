// Package sensor turns raw edges from the motion sensor into debounced light
// toggles with an automatic switch-off.
package sensor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/light"
)

// Defaults for Config.
const (
	DefaultLockout   = 500 * time.Millisecond
	DefaultRevert    = 5 * time.Second
	DefaultQueueSize = 5
)

var (
	eventsDropped   = metrics.NewCounter(`sensor_events_dropped_total`)
	eventsDebounced = metrics.NewCounter(`sensor_events_debounced_total`)
	eventsAccepted  = metrics.NewCounter(`sensor_events_accepted_total`)
	autoReverts     = metrics.NewCounter(`sensor_auto_reverts_total`)
)

// Arbiter is the part of light.Arbiter the debouncer needs.
type Arbiter interface {
	State() light.State
	RequestOn(light.Source) (bool, error)
	RequestOff(light.Source) (bool, error)
	RequestOffIfOwner(light.Source) (bool, error)
}

// Config controls debouncing and the auto-revert delay.
type Config struct {
	Lockout   time.Duration
	Revert    time.Duration
	QueueSize int
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{Lockout: DefaultLockout, Revert: DefaultRevert, QueueSize: DefaultQueueSize}
}

// Debouncer accepts sensor edges from the interrupt goroutine and applies
// them to the light from its own consumer goroutine.
type Debouncer struct {
	cfg   Config
	light Arbiter
	log   *zap.SugaredLogger

	// Written only by Interrupt.
	last   atomic.Int64
	primed atomic.Bool

	events  chan struct{}
	dropped atomic.Uint64

	mu       sync.Mutex
	timer    *time.Timer
	armed    bool
	deadline time.Time
}

// New creates a Debouncer. Zero config fields take their defaults.
func New(cfg Config, l Arbiter, log *zap.SugaredLogger) *Debouncer {
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultLockout
	}
	if cfg.Revert <= 0 {
		cfg.Revert = DefaultRevert
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Debouncer{
		cfg:    cfg,
		light:  l,
		log:    log,
		events: make(chan struct{}, cfg.QueueSize),
	}
}

// Interrupt handles one falling edge. ts is the monotonic event timestamp.
// It never blocks: when the queue is full the event is dropped.
func (d *Debouncer) Interrupt(ts time.Duration) {
	if d.primed.Load() && ts-time.Duration(d.last.Load()) < d.cfg.Lockout {
		eventsDebounced.Inc()
		return
	}
	d.last.Store(int64(ts))
	d.primed.Store(true)

	select {
	case d.events <- struct{}{}:
		eventsAccepted.Inc()
	default:
		d.dropped.Add(1)
		eventsDropped.Inc()
	}
}

// Dropped returns how many accepted edges were lost to a full queue.
func (d *Debouncer) Dropped() uint64 {
	return d.dropped.Load()
}

// Run consumes toggles until ctx is cancelled.
func (d *Debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.disarm()
			return
		case <-d.events:
			d.toggle()
		}
	}
}

func (d *Debouncer) toggle() {
	if d.light.State().On {
		if _, err := d.light.RequestOff(light.SourceSensor); err != nil {
			d.log.Errorw("sensor off failed", "error", err)
		}
		d.disarm()
		return
	}

	applied, err := d.light.RequestOn(light.SourceSensor)
	if err != nil {
		d.log.Errorw("sensor on failed", "error", err)
		return
	}
	if applied {
		d.arm()
	}
}

// arm (re)starts the single revert timer.
func (d *Debouncer) arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = true
	d.deadline = time.Now().Add(d.cfg.Revert)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.cfg.Revert, d.fire)
		return
	}
	d.timer.Stop()
	d.timer.Reset(d.cfg.Revert)
}

func (d *Debouncer) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.armed || time.Now().Before(d.deadline) {
		// disarmed or re-armed since this fire was scheduled
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.mu.Unlock()

	applied, err := d.light.RequestOffIfOwner(light.SourceSensor)
	if err != nil {
		d.log.Errorw("sensor auto-revert failed", "error", err)
		return
	}
	if applied {
		autoReverts.Inc()
		d.log.Infow("sensor auto-revert", "after", d.cfg.Revert)
	}
}
