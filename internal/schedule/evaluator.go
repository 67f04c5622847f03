package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/light-controller/internal/light"
)

// Releaser is the part of the light arbiter the evaluator needs when the
// schedule is disabled.
type Releaser interface {
	RequestOffIfOwner(src light.Source) (bool, error)
}

// Evaluator holds the schedule window and its enabled flag.
type Evaluator struct {
	mu      sync.RWMutex
	window  Window
	enabled bool

	light Releaser
	log   *zap.SugaredLogger
}

// NewEvaluator creates a disabled evaluator with a 00:00-00:00 window.
func NewEvaluator(l Releaser, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{light: l, log: log}
}

// SetWindow replaces the window. The enabled flag is not changed.
func (e *Evaluator) SetWindow(start, end TimeOfDay) {
	e.mu.Lock()
	e.window = Window{Start: start, End: end}
	e.mu.Unlock()

	e.log.Infow("schedule set", "start", start, "end", end)
}

// Window returns the stored window.
func (e *Evaluator) Window() Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window
}

// Enabled reports whether the schedule is enabled.
func (e *Evaluator) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled enables or disables the schedule. Disabling an enabled schedule
// turns the light off if the schedule currently holds it on. It reports whether
// the light was turned off.
func (e *Evaluator) SetEnabled(enabled bool) bool {
	e.mu.Lock()
	was := e.enabled
	e.enabled = enabled
	e.mu.Unlock()

	if was == enabled {
		return false
	}
	e.log.Infow("schedule control changed", "enabled", enabled)
	if enabled {
		return false
	}

	released, err := e.light.RequestOffIfOwner(light.SourceSchedule)
	if err != nil {
		e.log.Errorw("turn off schedule-owned light", "error", err)
		return false
	}
	if released {
		e.log.Infow("schedule disabled, light turned off")
	}
	return released
}

// IsActive reports whether the schedule is enabled and now falls in the window.
func (e *Evaluator) IsActive(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled {
		return false
	}
	return e.window.Contains(At(now))
}
