package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSyncExhausted is returned when no network time was obtained in the
// allowed number of attempts.
var ErrSyncExhausted = errors.New("network time sync exhausted")

// NetworkTime provides the current time from an external reference.
type NetworkTime interface {
	Now() (time.Time, error)
}

// HostClock sets the operating system clock.
type HostClock interface {
	Set(t time.Time) error
}

// SyncConfig controls network time polling.
type SyncConfig struct {
	Attempts int
	Delay    time.Duration
}

// DefaultSyncConfig mirrors the boot behaviour: ten tries, one second apart.
var DefaultSyncConfig = SyncConfig{Attempts: 10, Delay: time.Second}

// Keeper keeps the RTC and the host clock in step and notifies listeners when
// the time has been set.
type Keeper struct {
	clock *Clock
	host  HostClock
	net   NetworkTime
	cfg   SyncConfig
	log   *zap.SugaredLogger

	mu    sync.Mutex // serializes set/sync operations
	hooks []func(time.Time)
}

// NewKeeper creates a Keeper.
func NewKeeper(clock *Clock, host HostClock, net NetworkTime, cfg SyncConfig, log *zap.SugaredLogger) *Keeper {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Keeper{clock: clock, host: host, net: net, cfg: cfg, log: log}
}

// OnSynced registers fn to run after every successful SetDateTime or sync.
// Register hooks before the Keeper is shared.
func (k *Keeper) OnSynced(fn func(time.Time)) {
	k.hooks = append(k.hooks, fn)
}

// SetDateTime writes t to the RTC and then to the host clock. A host clock
// failure is logged but does not fail the call: the RTC is the authority.
func (k *Keeper) SetDateTime(t time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.setLocked(t)
}

func (k *Keeper) setLocked(t time.Time) error {
	if err := k.clock.Write(t); err != nil {
		return fmt.Errorf("set rtc: %w", err)
	}
	if err := k.host.Set(t); err != nil {
		k.log.Warnw("could not set host clock", "error", err)
	}
	k.log.Infow("time set", "time", t.In(k.clock.Location()).Format(time.DateTime))
	for _, fn := range k.hooks {
		fn(t)
	}
	return nil
}

// SyncFromNetwork polls the network source until it answers or the attempts
// run out. On exhaustion nothing is written and ErrSyncExhausted is returned.
func (k *Keeper) SyncFromNetwork(ctx context.Context) (time.Time, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= k.cfg.Attempts; attempt++ {
		t, err := k.net.Now()
		if err == nil {
			if err := k.setLocked(t); err != nil {
				return time.Time{}, err
			}
			return t, nil
		}
		lastErr = err
		k.log.Debugw("network time attempt failed", "attempt", attempt, "error", err)

		if attempt == k.cfg.Attempts {
			break
		}
		timer := time.NewTimer(k.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
	return time.Time{}, fmt.Errorf("%w after %d attempts: %w", ErrSyncExhausted, k.cfg.Attempts, lastErr)
}

// SyncHostFromRTC copies the RTC time to the host clock.
func (k *Keeper) SyncHostFromRTC() (time.Time, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.clock.Read()
	if err != nil {
		return time.Time{}, fmt.Errorf("read rtc: %w", err)
	}
	if err := k.host.Set(t); err != nil {
		return t, fmt.Errorf("set host clock: %w", err)
	}
	return t, nil
}

// Now reads the current time from the RTC.
func (k *Keeper) Now() (time.Time, error) {
	return k.clock.Read()
}
