// Package mqtt publishes light telemetry to an MQTT broker and delivers
// inbound control messages to a handler.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/light-controller/internal/schedule"
)

// DefaultPrefix is prepended to every topic.
const DefaultPrefix = "home"

// Inbound topics, relative to the prefix.
const (
	TopicLightCommand    = "light1/command"
	TopicNTPSync         = "ntp_sync"
	TopicSetDateTime     = "sub_dateTime"
	TopicSetSchedule     = "sub_schedule"
	TopicScheduleControl = "sub_schedule_control"
)

// Outbound topics, relative to the prefix.
const (
	TopicStatus      = "light1/status"
	TopicTemperature = "temperature"
	TopicTime        = "time"
	TopicDate        = "date"
	TopicSchedule    = "schedule"
	TopicSystem      = "light1/system"
)

// InboundTopics lists every topic subscribed on connect.
var InboundTopics = []string{
	TopicLightCommand,
	TopicNTPSync,
	TopicSetDateTime,
	TopicSetSchedule,
	TopicScheduleControl,
}

// Topics maps relative topic names to full ones under a prefix.
type Topics struct {
	prefix string
}

// NewTopics returns Topics for prefix. Surrounding slashes are ignored.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.Trim(prefix, "/")}
}

// Full returns the broker topic for rel.
func (t Topics) Full(rel string) string {
	if t.prefix == "" {
		return rel
	}
	return t.prefix + "/" + rel
}

// Relative strips the prefix from a broker topic. ok is false when topic is
// not under the prefix.
func (t Topics) Relative(topic string) (rel string, ok bool) {
	if t.prefix == "" {
		return topic, true
	}
	return strings.CutPrefix(topic, t.prefix+"/")
}

// Handler receives an inbound message. topic is relative to the prefix.
// It runs on the client's callback goroutine and must not block for long.
type Handler func(topic string, payload []byte)

// Publisher publishes telemetry.
type Publisher interface {
	PublishStatus(status string) error
	PublishTemperature(celsius float64) error
	PublishTime(t time.Time) error
	PublishDate(t time.Time) error
	PublishSchedule(w schedule.Window) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (startup, heartbeat, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
}

// FormatTemperature formats a temperature in °C with two decimals.
func FormatTemperature(celsius float64) []byte {
	return []byte(fmt.Sprintf("%.2f", celsius))
}

// FormatTime formats t as HH:MM.
func FormatTime(t time.Time) []byte {
	return []byte(t.Format("15:04"))
}

// FormatDate formats t as DD-MM-YYYY.
func FormatDate(t time.Time) []byte {
	return []byte(t.Format("02-01-2006"))
}

// SchedulePayload is the JSON published on the schedule topic.
type SchedulePayload struct {
	Start string `json:"S_T"`
	End   string `json:"E_T"`
}

// FormatSchedule creates the JSON payload for a schedule window.
func FormatSchedule(w schedule.Window) ([]byte, error) {
	return json.Marshal(SchedulePayload{Start: w.Start.String(), End: w.End.String()})
}

// SystemPayload is used for simple events (LWT, RECONNECTED) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{Event: event.Event, Reason: event.Reason}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
