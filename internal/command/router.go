package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/schedule"
)

// Defaults for Config.
const (
	DefaultQueueSize   = 10
	DefaultEnqueueWait = 100 * time.Millisecond
)

var queueDropped = metrics.NewCounter(`command_queue_dropped_total`)

// Arbiter is the part of light.Arbiter the router drives.
type Arbiter interface {
	Request(src light.Source, on bool) (prev light.State, applied bool, err error)
}

// Schedule is the part of schedule.Evaluator the router drives.
type Schedule interface {
	SetWindow(start, end schedule.TimeOfDay)
	Window() schedule.Window
	SetEnabled(bool) bool
}

// TimeKeeper sets and syncs the clock.
type TimeKeeper interface {
	SetDateTime(time.Time) error
	SyncFromNetwork(ctx context.Context) (time.Time, error)
	Now() (time.Time, error)
}

// Announcer publishes the results of commands.
type Announcer interface {
	PublishStatus(status string) error
	PublishTime(t time.Time) error
	PublishDate(t time.Time) error
	PublishSchedule(w schedule.Window) error
}

// Config controls the command queue.
type Config struct {
	QueueSize   int
	EnqueueWait time.Duration
	Location    *time.Location
}

type envelope struct {
	ch      Channel
	payload []byte
}

// Router queues raw payloads from the transport and executes them one at a
// time on the goroutine running Run.
type Router struct {
	cfg    Config
	queue  chan envelope
	light  Arbiter
	sched  Schedule
	keeper TimeKeeper
	pub    Announcer
	log    *zap.SugaredLogger

	dropped atomic.Uint64
}

// NewRouter creates a Router. Zero config fields take their defaults.
func NewRouter(cfg Config, l Arbiter, s Schedule, k TimeKeeper, pub Announcer, log *zap.SugaredLogger) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = DefaultEnqueueWait
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Router{
		cfg:    cfg,
		queue:  make(chan envelope, cfg.QueueSize),
		light:  l,
		sched:  s,
		keeper: k,
		pub:    pub,
		log:    log,
	}
}

// Submit queues a payload. If the queue stays full for the enqueue wait the
// payload is dropped and Submit returns false.
func (r *Router) Submit(ch Channel, payload []byte) bool {
	env := envelope{ch: ch, payload: append([]byte(nil), payload...)}

	select {
	case r.queue <- env:
		return true
	default:
	}

	timer := time.NewTimer(r.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case r.queue <- env:
		return true
	case <-timer.C:
		r.dropped.Add(1)
		queueDropped.Inc()
		r.log.Warnw("command queue full, dropping", "channel", ch, "payload", string(payload))
		return false
	}
}

// Dropped returns how many payloads Submit has dropped.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Run executes queued commands until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			r.handle(ctx, env)
		}
	}
}

func (r *Router) handle(ctx context.Context, env envelope) {
	cmd, err := Decode(env.ch, env.payload, r.cfg.Location)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnrecognized) {
			reason = "unrecognized"
		}
		metrics.GetOrCreateCounter(fmt.Sprintf(`commands_rejected_total{reason=%q}`, reason)).Inc()
		r.log.Warnw("command rejected", "channel", env.ch, "reason", reason, "error", err)
		return
	}

	r.log.Infow("processing command", "channel", env.ch, "kind", cmd.Kind)
	if err := r.Dispatch(ctx, cmd); err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`commands_failed_total{kind=%q}`, cmd.Kind.String())).Inc()
		r.log.Errorw("command failed", "kind", cmd.Kind, "error", err)
	}
}

// Dispatch applies a decoded command.
func (r *Router) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindLightOn, KindLightOff:
		return r.manual(cmd.Kind == KindLightOn)

	case KindSync:
		t, err := r.keeper.SyncFromNetwork(ctx)
		if err != nil {
			return fmt.Errorf("network sync: %w", err)
		}
		r.announceDateTime(t)
		return nil

	case KindSetDateTime:
		if err := r.keeper.SetDateTime(cmd.Time); err != nil {
			return fmt.Errorf("set date/time: %w", err)
		}
		now, err := r.keeper.Now()
		if err != nil {
			r.log.Warnw("read back after set failed", "error", err)
			now = cmd.Time
		}
		r.announceDateTime(now)
		return nil

	case KindSetSchedule:
		r.sched.SetWindow(cmd.Start, cmd.End)
		r.log.Infow("schedule set", "start", cmd.Start, "end", cmd.End)
		r.announce("schedule", r.pub.PublishSchedule(r.sched.Window()))
		return nil

	case KindScheduleEnable:
		r.sched.SetEnabled(true)
		r.announce("schedule", r.pub.PublishSchedule(r.sched.Window()))
		return nil

	case KindScheduleDisable:
		if r.sched.SetEnabled(false) {
			r.announce("status", r.pub.PublishStatus(light.State{}.Status()))
		}
		r.announce("schedule", r.pub.PublishSchedule(r.sched.Window()))
		return nil
	}
	return fmt.Errorf("no handler for %s", cmd.Kind)
}

// manual applies an operator ON/OFF. Manual outranks everything, so the
// request always takes ownership, and any manual command turns the schedule off.
func (r *Router) manual(on bool) error {
	prev, applied, err := r.light.Request(light.SourceManual, on)
	if err != nil {
		return fmt.Errorf("manual %s: %w", light.State{On: on}.Status(), err)
	}

	if applied && prev.On != on {
		r.announce("status", r.pub.PublishStatus(light.State{On: on}.Status()))
	} else {
		r.log.Infow("manual command, light already in requested state", "state", light.State{On: on}.Status())
	}
	r.sched.SetEnabled(false)
	return nil
}

func (r *Router) announceDateTime(t time.Time) {
	t = t.In(r.cfg.Location)
	r.announce("date", r.pub.PublishDate(t))
	r.announce("time", r.pub.PublishTime(t))
}

func (r *Router) announce(what string, err error) {
	if err != nil {
		r.log.Warnw("announce failed", "what", what, "error", err)
	}
}
