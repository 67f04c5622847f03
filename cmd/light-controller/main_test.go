package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/light-controller/internal/command"
	"github.com/sweeney/light-controller/internal/gpio"
	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/monitor"
	"github.com/sweeney/light-controller/internal/mqtt"
	"github.com/sweeney/light-controller/internal/rtc"
	"github.com/sweeney/light-controller/internal/schedule"
	"github.com/sweeney/light-controller/internal/status"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type loopFixture struct {
	bus     *rtc.FakeBus
	light   *light.Arbiter
	sched   *schedule.Evaluator
	mon     *monitor.Monitor
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	bus := &rtc.FakeBus{}
	bus.SetTime(time.Date(2024, 6, 1, 18, 0, 0, 0, ist))
	bus.SetTemperature(0x19, 0x40) // 25.25
	clock := rtc.NewClock(bus, ist, time.Second, log)

	tracker := status.NewTracker(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC), status.Config{Broker: "tcp://test:1883"})
	a := light.NewArbiter(gpio.NewFakeWriter(), log, light.WithChangeHook(tracker.SetLight))
	sched := schedule.NewEvaluator(a, log)
	pub := mqtt.NewFakePublisher()

	return &loopFixture{
		bus:     bus,
		light:   a,
		sched:   sched,
		mon:     monitor.New(clock, sched, a, pub, log),
		pub:     pub,
		tracker: tracker,
	}
}

// run drives runLoop for nTicks ticks and then delivers signal.
func (f *loopFixture) run(t *testing.T, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(f.mon, f.sched, f.pub, f.pub, f.tracker, heartbeat, zaptest.NewLogger(t).Sugar(), clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func decodeEvent(t *testing.T, ev mqtt.SystemEvent) status.StatusInner {
	t.Helper()
	var s status.StatusJSON
	if err := json.Unmarshal(ev.RawPayload, &s); err != nil {
		t.Fatalf("bad %s payload %q: %v", ev.Event, ev.RawPayload, err)
	}
	return s.Status
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			f := newLoopFixture(t)
			clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

			if err := f.run(t, 0, clock, 0, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}
			if len(f.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(f.pub.SystemEvents))
			}
			ev := f.pub.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.want {
				t.Errorf("got %s/%s, want SHUTDOWN/%s", ev.Event, ev.Reason, tt.want)
			}
			inner := decodeEvent(t, ev)
			if inner.Event != "SHUTDOWN" || inner.Reason != tt.want {
				t.Errorf("payload event/reason: got %s/%s", inner.Event, inner.Reason)
			}
			if !inner.MQTT.Connected {
				t.Error("payload should carry the MQTT connection state")
			}
		})
	}
}

func TestRunLoopTickPollsClock(t *testing.T) {
	f := newLoopFixture(t)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	if err := f.run(t, 0, clock, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := f.pub.Last(mqtt.TopicTime); got != "18:00" {
		t.Errorf("time: got %q", got)
	}
	if got := f.pub.Last(mqtt.TopicDate); got != "01-06-2024" {
		t.Errorf("date: got %q", got)
	}
	if got := f.pub.Last(mqtt.TopicTemperature); got != "25.25" {
		t.Errorf("temperature: got %q", got)
	}

	snap := f.tracker.Snapshot()
	if !snap.Clock.OK || snap.Clock.Temperature != 25.25 {
		t.Errorf("tracker clock: got %+v", snap.Clock)
	}
	if snap.Clock.Time.Hour() != 18 {
		t.Errorf("tracker time: got %v", snap.Clock.Time)
	}
}

func TestRunLoopRTCFault(t *testing.T) {
	f := newLoopFixture(t)
	f.bus.SetError(errors.New("nack"))
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	if err := f.run(t, 0, clock, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("a bus fault must not stop the loop: %v", err)
	}
	if f.tracker.Snapshot().Clock.OK {
		t.Error("tracker should record the fault")
	}
	if len(f.pub.Payloads(mqtt.TopicTime)) != 0 {
		t.Error("nothing should be announced during a fault")
	}
	if len(f.pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %d events", len(f.pub.SystemEvents))
	}
}

func TestRunLoopTracksSchedule(t *testing.T) {
	f := newLoopFixture(t)
	f.sched.SetWindow(schedule.TimeOfDay{Hour: 17}, schedule.TimeOfDay{Hour: 23})
	f.sched.SetEnabled(true)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	if err := f.run(t, 0, clock, 1, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	snap := f.tracker.Snapshot()
	if !snap.ScheduleEnabled || snap.Window.Start.Hour != 17 {
		t.Errorf("schedule not tracked: %+v", snap)
	}
	// 18:00 is inside 17:00-23:00, so the first tick is a rising edge.
	if !snap.Light.On || snap.Light.Owner != light.SourceSchedule {
		t.Errorf("light: got %+v, want ON/SCHEDULE", snap.Light)
	}
	if snap.Counts.On != 1 {
		t.Errorf("on count: got %d", snap.Counts.On)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	f := newLoopFixture(t)
	// now() is called once at start, then once per tick.
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 500*time.Millisecond)

	if err := f.run(t, time.Second, clock, 4, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	var events []string
	for _, ev := range f.pub.SystemEvents {
		events = append(events, ev.Event)
	}
	if strings.Join(events, ",") != "HEARTBEAT,HEARTBEAT,SHUTDOWN" {
		t.Fatalf("events: got %v", events)
	}
	hb := f.pub.SystemEvents[0]
	if !hb.Timestamp.Equal(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)) {
		t.Errorf("heartbeat timestamp: got %v", hb.Timestamp)
	}
	inner := decodeEvent(t, hb)
	if inner.Event != "HEARTBEAT" || !inner.RTC.OK {
		t.Errorf("heartbeat payload: %+v", inner)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	f := newLoopFixture(t)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)

	if err := f.run(t, 0, clock, 5, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	if len(f.pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %d events", len(f.pub.SystemEvents))
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	f := newLoopFixture(t)
	f.pub.PublishError = errors.New("broker down")
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	if err := f.run(t, time.Second, clock, 3, syscall.SIGINT); err != nil {
		t.Fatalf("publish errors must not stop the loop: %v", err)
	}
	if !f.tracker.Snapshot().Clock.OK {
		t.Error("clock should still be tracked")
	}
}

func TestInboundTopicsAllRouted(t *testing.T) {
	for _, topic := range mqtt.InboundTopics {
		if _, ok := inboundChannels[topic]; !ok {
			t.Errorf("subscribed topic %q has no command channel", topic)
		}
	}
}

func TestInboxDeliversToRouter(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	bus := &rtc.FakeBus{}
	bus.SetTime(time.Date(2024, 6, 1, 18, 0, 0, 0, ist))
	keeper := rtc.NewKeeper(rtc.NewClock(bus, ist, time.Second, log), &rtc.FakeHostClock{},
		&rtc.FakeNetworkTime{}, rtc.DefaultSyncConfig, log)

	a := light.NewArbiter(gpio.NewFakeWriter(), log)
	sched := schedule.NewEvaluator(a, log)
	pub := mqtt.NewFakePublisher()
	router := command.NewRouter(command.Config{Location: ist}, a, sched, keeper, pub, log)

	in := &inbox{log: log}
	// Before the router is registered messages are dropped, not panics.
	in.handle(mqtt.TopicLightCommand, []byte("ON"))

	in.router.Store(router)
	in.handle("light1/status", []byte("ON"))
	in.handle(mqtt.TopicSetSchedule, []byte(`{"startTimeIST":"19:00","endTimeIST":"05:00"}`))
	in.handle(mqtt.TopicLightCommand, []byte("ON"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go router.Run(ctx)

	for !a.State().On {
		select {
		case <-ctx.Done():
			t.Fatal("light command never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if w := sched.Window(); w.Start.Hour != 19 || w.End.Hour != 5 {
		t.Errorf("schedule command not applied: %s-%s", w.Start, w.End)
	}
	if a.State().Owner != light.SourceManual {
		t.Errorf("owner: got %s", a.State().Owner)
	}
}

type fakeRecorder struct {
	temps []float64
}

func (r *fakeRecorder) RecordLight(light.State, time.Time) {}
func (r *fakeRecorder) RecordTemperature(c float64, _ time.Time) {
	r.temps = append(r.temps, c)
}
func (r *fakeRecorder) Close() error { return nil }

func TestRecordingPublisher(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	rec := &fakeRecorder{}
	p := recordingPublisher{Publisher: pub, rec: rec, now: time.Now}

	if err := p.PublishTemperature(24.5); err != nil {
		t.Fatal(err)
	}
	if err := p.PublishStatus("ON"); err != nil {
		t.Fatal(err)
	}

	if len(rec.temps) != 1 || rec.temps[0] != 24.5 {
		t.Errorf("recorded: got %v", rec.temps)
	}
	if pub.Last(mqtt.TopicTemperature) != "24.50" || pub.Last(mqtt.TopicStatus) != "ON" {
		t.Errorf("publishes not forwarded: %+v", pub.Messages)
	}
}

func TestUnavailableBusFaultsEveryRead(t *testing.T) {
	cause := errors.New("no such bus")
	clock := rtc.NewClock(unavailableBus{err: cause}, ist, time.Second, zaptest.NewLogger(t).Sugar())

	if _, err := clock.Read(); !errors.Is(err, cause) {
		t.Errorf("Read: got %v, want wrapped %v", err, cause)
	}
	if got := clock.Temperature(); got != rtc.TemperatureUnavailable {
		t.Errorf("Temperature: got %v", got)
	}
}

func TestFormatCelsius(t *testing.T) {
	if got := formatCelsius(21.75); got != "21.75°C" {
		t.Errorf("got %q", got)
	}
	if got := formatCelsius(rtc.TemperatureUnavailable); got != "unavailable" {
		t.Errorf("got %q", got)
	}
}

func TestOpenSensorMissingChipReturnsNil(t *testing.T) {
	line, err := openSensor("gpiochip-missing", gpio.DefaultPinSensor, func(time.Duration) {})
	if err == nil {
		line.Close()
		t.Fatal("expected error for a missing chip")
	}
	if line != nil {
		t.Errorf("expected nil sensor on error, got %T", line)
	}
}
