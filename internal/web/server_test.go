package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/sweeney/light-controller/internal/light"
	"github.com/sweeney/light-controller/internal/rtc"
	"github.com/sweeney/light-controller/internal/schedule"
	"github.com/sweeney/light-controller/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollMs:      1000,
		LockoutMs:   500,
		RevertMs:    5000,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPPort:    ":8080",
		TopicPrefix: "home",
		Timezone:    "Asia/Kolkata",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetLight(light.State{On: true, Owner: light.SourceSensor})
	tr.SetSchedule(schedule.Window{Start: schedule.TimeOfDay{Hour: 9}, End: schedule.TimeOfDay{Hour: 17}}, true)
	tr.SetMQTTConnected(true)

	resp, body := get(t, ts.URL+"/index.json")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Light != "ON" || sj.Status.Owner != "SENSOR" {
		t.Errorf("light: got %s/%s, want ON/SENSOR", sj.Status.Light, sj.Status.Owner)
	}
	if sj.Status.Schedule.Start != "09:00" || sj.Status.Schedule.End != "17:00" || !sj.Status.Schedule.Enabled {
		t.Errorf("schedule: got %+v", sj.Status.Schedule)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Counts.On != 1 {
		t.Errorf("Counts.On: got %d, want 1", sj.Status.Counts.On)
	}
	if sj.Status.Config.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Config.Broker: got %q", sj.Status.Config.Broker)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetLight(light.State{On: true, Owner: light.SourceManual})
	tr.SetClock(time.Date(2026, 1, 1, 21, 30, 5, 0, time.UTC), 25.5)

	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	for _, want := range []string{`class="on">ON<`, "MANUAL", "01-01-2026 21:30:05", "25.50 °C", "Asia/Kolkata"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLBeforeFirstClockReading(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := get(t, ts.URL+"/index.html")
	if !strings.Contains(body, "no reading yet") {
		t.Error("expected placeholder before the first RTC reading")
	}
	if !strings.Contains(body, `class="off">OFF<`) {
		t.Error("expected the light to show OFF")
	}
}

func TestHTMLStaleClockAndUnavailableTemperature(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetClock(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC), rtc.TemperatureUnavailable)
	tr.SetClockFault()

	_, body := get(t, ts.URL+"/")
	if !strings.Contains(body, "(stale)") {
		t.Error("expected stale marker after a clock fault")
	}
	if !strings.Contains(body, "unavailable") {
		t.Error("expected unavailable temperature")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	metrics.GetOrCreateCounter(`web_test_probe_total`).Inc()

	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "web_test_probe_total 1") {
		t.Errorf("metrics output missing probe counter:\n%s", body)
	}
	if !strings.Contains(body, "rtc_bus_timeouts_total") {
		t.Error("metrics output missing package counters")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := get(t, ts.URL+"/nonexistent")
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	var sj1 status.StatusJSON
	_, body := get(t, ts.URL+"/index.json")
	json.Unmarshal([]byte(body), &sj1)
	if sj1.Status.Light != "OFF" || sj1.Status.MQTT.Connected {
		t.Errorf("unexpected initial state: %+v", sj1.Status)
	}

	tr.SetLight(light.State{On: true, Owner: light.SourceSchedule})
	tr.SetMQTTConnected(true)

	var sj2 status.StatusJSON
	_, body = get(t, ts.URL+"/index.json")
	json.Unmarshal([]byte(body), &sj2)
	if sj2.Status.Light != "ON" || sj2.Status.Owner != "SCHEDULE" {
		t.Errorf("light: got %s/%s, want ON/SCHEDULE", sj2.Status.Light, sj2.Status.Owner)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}

func TestScheduleEndpoint(t *testing.T) {
	overnight := schedule.Window{Start: schedule.TimeOfDay{Hour: 22}, End: schedule.TimeOfDay{Hour: 6}}
	tests := []struct {
		name          string
		window        schedule.Window
		enabled       bool
		clock         time.Time // zero: no reading
		wantOvernight bool
		wantActive    string // "null", "true" or "false"
	}{
		{"no clock reading", overnight, true, time.Time{}, true, "null"},
		{"inside overnight window", overnight, true, time.Date(2026, 1, 1, 23, 15, 0, 0, time.UTC), true, "true"},
		{"after midnight", overnight, true, time.Date(2026, 1, 2, 5, 59, 0, 0, time.UTC), true, "true"},
		{"outside window", overnight, true, time.Date(2026, 1, 2, 6, 0, 0, 0, time.UTC), true, "false"},
		{"disabled", overnight, false, time.Date(2026, 1, 1, 23, 15, 0, 0, time.UTC), true, "false"},
		{"daytime window", schedule.Window{Start: schedule.TimeOfDay{Hour: 9}, End: schedule.TimeOfDay{Hour: 17}}, true,
			time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), false, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, tr := newTestServer(t)
			tr.SetSchedule(tt.window, tt.enabled)
			if !tt.clock.IsZero() {
				tr.SetClock(tt.clock, 21)
			}

			resp, body := get(t, ts.URL+"/schedule.json")
			if resp.StatusCode != 200 {
				t.Fatalf("status: got %d, want 200", resp.StatusCode)
			}
			var got map[string]json.RawMessage
			if err := json.Unmarshal([]byte(body), &got); err != nil {
				t.Fatalf("decode JSON: %v", err)
			}
			if want := `"` + tt.window.Start.String() + `"`; string(got["start"]) != want {
				t.Errorf("start: got %s, want %s", got["start"], want)
			}
			if want := fmt.Sprint(tt.wantOvernight); string(got["overnight"]) != want {
				t.Errorf("overnight: got %s, want %s", got["overnight"], want)
			}
			if string(got["active"]) != tt.wantActive {
				t.Errorf("active: got %s, want %s", got["active"], tt.wantActive)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		clockOK    bool
		mqtt       bool
		wantStatus int
		wantBody   []string
	}{
		{"healthy", true, true, 200, []string{"ok"}},
		{"clock fault", false, true, 503, []string{"rtc:"}},
		{"broker down", true, false, 503, []string{"mqtt: disconnected"}},
		{"both", false, false, 503, []string{"rtc:", "mqtt:"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, tr := newTestServer(t)
			tr.SetClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), 21)
			if !tt.clockOK {
				tr.SetClockFault()
			}
			tr.SetMQTTConnected(tt.mqtt)

			resp, body := get(t, ts.URL+"/healthz")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(body, want) {
					t.Errorf("body %q missing %q", body, want)
				}
			}
		})
	}
}

func TestHTMLMarksOvernightWindow(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSchedule(schedule.Window{Start: schedule.TimeOfDay{Hour: 22}, End: schedule.TimeOfDay{Hour: 6}}, true)

	_, body := get(t, ts.URL+"/")
	if !strings.Contains(body, "22:00 – 06:00 (overnight)") {
		t.Error("expected overnight marker on a window that wraps midnight")
	}
}
