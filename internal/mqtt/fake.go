package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/light-controller/internal/schedule"
)

// Message is one recorded publish. Topic is relative to the prefix.
type Message struct {
	Topic   string
	Payload string
}

// FakePublisher records published messages for test assertions.
// It is safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	// Messages contains every publish in order.
	Messages []Message

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// PublishError, if set, is returned by every publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

func (f *FakePublisher) record(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Message{Topic: topic, Payload: string(payload)})
	return nil
}

// PublishStatus records a status message.
func (f *FakePublisher) PublishStatus(status string) error {
	return f.record(TopicStatus, []byte(status))
}

// PublishTemperature records a temperature message.
func (f *FakePublisher) PublishTemperature(celsius float64) error {
	return f.record(TopicTemperature, FormatTemperature(celsius))
}

// PublishTime records a time message.
func (f *FakePublisher) PublishTime(t time.Time) error {
	return f.record(TopicTime, FormatTime(t))
}

// PublishDate records a date message.
func (f *FakePublisher) PublishDate(t time.Time) error {
	return f.record(TopicDate, FormatDate(t))
}

// PublishSchedule records a schedule message.
func (f *FakePublisher) PublishSchedule(w schedule.Window) error {
	payload, err := FormatSchedule(w)
	if err != nil {
		return err
	}
	return f.record(TopicSchedule, payload)
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	if err := f.record(TopicSystem, payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.SystemEvents = append(f.SystemEvents, event)
	f.mu.Unlock()
	return nil
}

// Payloads returns the payloads published on topic, in order.
func (f *FakePublisher) Payloads(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Last returns the most recent payload on topic, or "" if none.
func (f *FakePublisher) Last(topic string) string {
	p := f.Payloads(topic)
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Count returns the total number of recorded messages.
func (f *FakePublisher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages and errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.SystemEvents = nil
	f.PublishError = nil
	f.Closed = false
}
