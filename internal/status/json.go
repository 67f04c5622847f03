package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/light-controller/internal/rtc"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Light         string       `json:"light"`
	Owner         string       `json:"owner"`
	Schedule      ScheduleJSON `json:"schedule"`
	RTC           RTCJSON      `json:"rtc"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"switch_counts"`
	Config        ConfigJSON   `json:"config"`
}

// ScheduleJSON reports the schedule window.
type ScheduleJSON struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

// RTCJSON reports the last clock reading.
type RTCJSON struct {
	OK          bool     `json:"ok"`
	Time        string   `json:"time,omitempty"`
	Temperature *float64 `json:"temperature_c,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of switch counts.
type CountsJSON struct {
	On  int `json:"on"`
	Off int `json:"off"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	LockoutMs   int64  `json:"lockout_ms"`
	RevertMs    int64  `json:"revert_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	TopicPrefix string `json:"topic_prefix"`
	Timezone    string `json:"timezone"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Light: snap.Light.Status(),
		Owner: snap.Light.Owner.String(),
		Schedule: ScheduleJSON{
			Start:   snap.Window.Start.String(),
			End:     snap.Window.End.String(),
			Enabled: snap.ScheduleEnabled,
		},
		RTC:           RTCJSON{OK: snap.Clock.OK},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON{On: snap.Counts.On, Off: snap.Counts.Off},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			LockoutMs:   snap.Config.LockoutMs,
			RevertMs:    snap.Config.RevertMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			TopicPrefix: snap.Config.TopicPrefix,
			Timezone:    snap.Config.Timezone,
		},
	}
	if !snap.Clock.Time.IsZero() {
		inner.RTC.Time = snap.Clock.Time.Format(time.RFC3339)
	}
	if snap.Clock.Temperature != rtc.TemperatureUnavailable && !snap.Clock.Time.IsZero() {
		temp := snap.Clock.Temperature
		inner.RTC.Temperature = &temp
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
