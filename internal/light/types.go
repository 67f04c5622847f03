// Package light owns the on/off state of the single arbitrated light and decides
// which control source may change it.
//
// Every control path (manual command, debounced sensor, schedule) goes through
// Arbiter.RequestOn and Arbiter.RequestOff; nothing else drives the output.
package light

// Source identifies who is asking for a light change. The numeric value is the
// priority: a higher Source preempts a lower one.
type Source int

const (
	SourceSchedule Source = iota + 1
	SourceSensor
	SourceManual
)

// String returns the log/telemetry name of the source.
func (s Source) String() string {
	switch s {
	case SourceSchedule:
		return "SCHEDULE"
	case SourceSensor:
		return "SENSOR"
	case SourceManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// Outranks reports whether s has at least the priority of other.
func (s Source) Outranks(other Source) bool {
	return s >= other
}

// State is a point-in-time view of the light.
type State struct {
	On    bool
	Owner Source
}

// Status returns the telemetry string for the light: "ON" or "OFF".
func (s State) Status() string {
	if s.On {
		return "ON"
	}
	return "OFF"
}

// Output drives the physical light. Implementations must be safe to call while
// the Arbiter holds its lock, so they must not call back into the Arbiter.
type Output interface {
	Set(on bool) error
}
