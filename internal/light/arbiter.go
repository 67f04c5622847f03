package light

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
)

// Arbiter serializes every change to the light behind a single mutex.
type Arbiter struct {
	mu    sync.Mutex
	state State
	out   Output
	log   *zap.SugaredLogger
	hooks []func(State)

	// stale is set after a failed output write: the hardware level is no
	// longer known to match state, so the next request drives it regardless.
	stale bool
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithChangeHook registers fn to be called after every change of state or owner.
// fn runs while the Arbiter lock is held: it must be quick and must not call
// back into the Arbiter.
func WithChangeHook(fn func(State)) Option {
	return func(a *Arbiter) {
		a.hooks = append(a.hooks, fn)
	}
}

// NewArbiter creates an Arbiter with the light off and owned by the lowest
// priority source. The output is not touched; call Reset to force it off.
func NewArbiter(out Output, log *zap.SugaredLogger, opts ...Option) *Arbiter {
	a := &Arbiter{
		state: State{On: false, Owner: SourceSchedule},
		out:   out,
		log:   log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reset drives the output off and restores the initial state.
func (a *Arbiter) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.out.Set(false); err != nil {
		a.stale = true
		return fmt.Errorf("drive light off: %w", err)
	}
	a.stale = false
	a.state = State{On: false, Owner: SourceSchedule}
	a.notify()
	return nil
}

// State returns the current state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RequestOn turns the light on for src. It is applied when src ranks at least
// as high as the current owner, or when the light is off. A request from a
// lower source while the light is on is ignored and returns false.
func (a *Arbiter) RequestOn(src Source) (bool, error) {
	_, ok, err := a.Request(src, true)
	return ok, err
}

// RequestOff turns the light off for src. It is applied when src ranks at least
// as high as the current owner, or when the light is already off.
func (a *Arbiter) RequestOff(src Source) (bool, error) {
	_, ok, err := a.Request(src, false)
	return ok, err
}

// Request is RequestOn or RequestOff chosen by on. It also returns the state
// the light was in when the request was decided, read under the same lock.
func (a *Arbiter) Request(src Source, on bool) (prev State, applied bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev = a.state
	if a.state.On && !src.Outranks(a.state.Owner) {
		a.ignored(src, State{On: on}.Status())
		return prev, false, nil
	}
	applied, err = a.apply(on, src)
	return prev, applied, err
}

// RequestOffIfOwner turns the light off only if it is on and currently owned by
// src. The ownership check and the change happen under one lock acquisition.
func (a *Arbiter) RequestOffIfOwner(src Source) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.On || a.state.Owner != src {
		return false, nil
	}
	return a.apply(false, src)
}

// apply must be called with mu held.
func (a *Arbiter) apply(on bool, src Source) (bool, error) {
	prev := a.state
	if prev.On != on || a.stale {
		if err := a.out.Set(on); err != nil {
			a.stale = true
			metrics.GetOrCreateCounter(`light_output_errors_total`).Inc()
			return false, fmt.Errorf("drive light %s: %w", State{On: on}.Status(), err)
		}
		a.stale = false
	}
	a.state = State{On: on, Owner: src}

	if prev.Owner != src {
		a.log.Infow("owner changed", "from", prev.Owner, "to", src)
	}
	if prev.On != on {
		a.log.Infow("light switched", "state", a.state.Status(), "source", src)
	}
	if prev != a.state {
		a.notify()
	}
	return true, nil
}

func (a *Arbiter) ignored(src Source, op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`light_requests_ignored_total{source=%q}`, src.String())).Inc()
	a.log.Warnw("request from lower-priority source ignored",
		"op", op, "source", src, "owner", a.state.Owner)
}

func (a *Arbiter) notify() {
	for _, fn := range a.hooks {
		fn(a.state)
	}
}
