package sensor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/light-controller/internal/gpio"
	"github.com/sweeney/light-controller/internal/light"
)

func newTestDebouncer(t *testing.T, cfg Config) (*Debouncer, *light.Arbiter) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	a := light.NewArbiter(gpio.NewFakeWriter(), log)
	return New(cfg, a, log), a
}

func startConsumer(t *testing.T, d *Debouncer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestDefaults(t *testing.T) {
	d, _ := newTestDebouncer(t, Config{})
	if d.cfg != DefaultConfig() {
		t.Errorf("expected defaults %+v, got %+v", DefaultConfig(), d.cfg)
	}
	if cap(d.events) != 5 {
		t.Errorf("expected queue capacity 5, got %d", cap(d.events))
	}
}

func TestLockout(t *testing.T) {
	tests := []struct {
		name  string
		edges []time.Duration
		want  int
	}{
		{"single edge", []time.Duration{10 * time.Second}, 1},
		{"first edge at zero", []time.Duration{0}, 1},
		{"bounce inside lockout", []time.Duration{10 * time.Second, 10*time.Second + 100*time.Millisecond}, 1},
		{"exactly at lockout", []time.Duration{10 * time.Second, 10*time.Second + 500*time.Millisecond}, 2},
		{"separate presses", []time.Duration{10 * time.Second, 10*time.Second + 600*time.Millisecond}, 2},
		{
			"lockout runs from the last accepted edge",
			[]time.Duration{10 * time.Second, 10*time.Second + 300*time.Millisecond, 10*time.Second + 550*time.Millisecond},
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDebouncer(t, Config{})
			for _, ts := range tt.edges {
				d.Interrupt(ts)
			}
			if got := len(d.events); got != tt.want {
				t.Errorf("queued %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	d, _ := newTestDebouncer(t, Config{})

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 7; i++ {
			d.Interrupt(time.Duration(i) * time.Second)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Interrupt blocked on a full queue")
	}

	if len(d.events) != 5 {
		t.Errorf("expected 5 queued events, got %d", len(d.events))
	}
	if d.Dropped() != 2 {
		t.Errorf("expected 2 dropped events, got %d", d.Dropped())
	}
}

func TestToggleOnAndOff(t *testing.T) {
	d, a := newTestDebouncer(t, Config{Revert: time.Hour})
	startConsumer(t, d)

	d.Interrupt(time.Second)
	waitFor(t, "light on", func() bool { return a.State().On })
	if a.State().Owner != light.SourceSensor {
		t.Errorf("expected owner SENSOR, got %s", a.State().Owner)
	}

	d.Interrupt(2 * time.Second)
	waitFor(t, "light off", func() bool { return !a.State().On })

	d.mu.Lock()
	armed := d.armed
	d.mu.Unlock()
	if armed {
		t.Error("turning the light off should disarm the revert timer")
	}
}

func TestAutoRevert(t *testing.T) {
	d, a := newTestDebouncer(t, Config{Revert: 30 * time.Millisecond})
	startConsumer(t, d)

	d.Interrupt(time.Second)
	waitFor(t, "light on", func() bool { return a.State().On })
	waitFor(t, "auto-revert", func() bool { return !a.State().On })

	if a.State().Owner != light.SourceSensor {
		t.Errorf("revert should be made by SENSOR, got %s", a.State().Owner)
	}
}

func TestManualTakeoverSurvivesRevert(t *testing.T) {
	d, a := newTestDebouncer(t, Config{Revert: 50 * time.Millisecond})
	startConsumer(t, d)

	d.Interrupt(time.Second)
	waitFor(t, "light on", func() bool { return a.State().On })

	if ok, err := a.RequestOn(light.SourceManual); !ok || err != nil {
		t.Fatalf("manual takeover: ok=%v err=%v", ok, err)
	}
	time.Sleep(150 * time.Millisecond)

	st := a.State()
	if !st.On || st.Owner != light.SourceManual {
		t.Errorf("expected ON/MANUAL after the revert delay, got %+v", st)
	}
}

func TestSensorCannotOverrideManual(t *testing.T) {
	d, a := newTestDebouncer(t, Config{Revert: time.Hour})
	startConsumer(t, d)
	a.RequestOn(light.SourceManual)

	d.Interrupt(time.Second)
	waitFor(t, "queue drained", func() bool { return len(d.events) == 0 })
	time.Sleep(10 * time.Millisecond)

	if st := a.State(); !st.On || st.Owner != light.SourceManual {
		t.Errorf("sensor edge should be ignored while MANUAL holds the light, got %+v", st)
	}
}

func TestRearmUsesOneTimer(t *testing.T) {
	d, a := newTestDebouncer(t, Config{Revert: 200 * time.Millisecond})
	a.RequestOn(light.SourceSensor)

	d.arm()
	first := d.timer
	time.Sleep(100 * time.Millisecond)
	d.arm()
	if d.timer != first {
		t.Error("re-arming should reuse the existing timer")
	}

	// The first deadline has passed; the re-armed one has not.
	time.Sleep(150 * time.Millisecond)
	if !a.State().On {
		t.Fatal("re-armed timer fired at the original deadline")
	}
	waitFor(t, "auto-revert", func() bool { return !a.State().On })
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _ := newTestDebouncer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
