// Package command decodes inbound control messages and applies them to the
// light, the schedule and the clock from a single goroutine.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/light-controller/internal/schedule"
)

var (
	// ErrUnrecognized is returned for payloads no command matches.
	ErrUnrecognized = errors.New("unrecognized command")

	// ErrMalformed is returned when a command is recognized but its fields are
	// missing or invalid.
	ErrMalformed = errors.New("malformed command")
)

// Channel identifies where a payload arrived.
type Channel int

const (
	ChannelLight Channel = iota + 1
	ChannelSync
	ChannelDateTime
	ChannelSchedule
	ChannelScheduleControl
)

func (c Channel) String() string {
	switch c {
	case ChannelLight:
		return "light"
	case ChannelSync:
		return "sync"
	case ChannelDateTime:
		return "datetime"
	case ChannelSchedule:
		return "schedule"
	case ChannelScheduleControl:
		return "schedule-control"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Kind is the decoded command type.
type Kind int

const (
	KindLightOn Kind = iota + 1
	KindLightOff
	KindSync
	KindSetDateTime
	KindSetSchedule
	KindScheduleEnable
	KindScheduleDisable
)

func (k Kind) String() string {
	switch k {
	case KindLightOn:
		return "LIGHT_ON"
	case KindLightOff:
		return "LIGHT_OFF"
	case KindSync:
		return "SYNC"
	case KindSetDateTime:
		return "SET_DATETIME"
	case KindSetSchedule:
		return "SET_SCHEDULE"
	case KindScheduleEnable:
		return "SCHEDULE_ON"
	case KindScheduleDisable:
		return "SCHEDULE_OFF"
	default:
		return "UNKNOWN"
	}
}

// Command is a decoded, validated request.
type Command struct {
	Kind Kind

	// KindSetDateTime
	Time time.Time

	// KindSetSchedule
	Start, End schedule.TimeOfDay
}

// Date/time layouts accepted from the set-time payload. Hours, minutes and
// seconds may be one or two digits.
const (
	layoutWithSeconds = "2-1-2006 15:4:5"
	layoutNoSeconds   = "2-1-2006 15:4"
)

type dateTimePayload struct {
	Date *string `json:"date"`
	Time *string `json:"time"`
}

type schedulePayload struct {
	Start *string `json:"startTimeIST"`
	End   *string `json:"endTimeIST"`
}

// Decode turns a raw payload into a Command. Date/time payloads are read as
// wall time in loc. Nothing about a payload is applied unless all of it is valid.
func Decode(ch Channel, payload []byte, loc *time.Location) (Command, error) {
	s := strings.TrimSpace(string(payload))

	switch ch {
	case ChannelLight, ChannelSync, ChannelDateTime:
		switch {
		case s == "ON":
			return Command{Kind: KindLightOn}, nil
		case s == "OFF":
			return Command{Kind: KindLightOff}, nil
		case s == "SYNC":
			return Command{Kind: KindSync}, nil
		case strings.HasPrefix(s, "{"):
			return decodeDateTime(s, loc)
		}
	case ChannelSchedule:
		if strings.HasPrefix(s, "{") {
			return decodeSchedule(s)
		}
	case ChannelScheduleControl:
		switch {
		case strings.EqualFold(s, "ON"):
			return Command{Kind: KindScheduleEnable}, nil
		case strings.EqualFold(s, "OFF"):
			return Command{Kind: KindScheduleDisable}, nil
		}
	}
	return Command{}, fmt.Errorf("%w: %q on %s", ErrUnrecognized, s, ch)
}

func decodeDateTime(s string, loc *time.Location) (Command, error) {
	var p dateTimePayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Command{}, fmt.Errorf("%w: date/time json: %v", ErrMalformed, err)
	}
	if p.Date == nil || p.Time == nil {
		return Command{}, fmt.Errorf("%w: date/time needs both \"date\" and \"time\"", ErrMalformed)
	}

	value := strings.TrimSpace(*p.Date) + " " + strings.TrimSpace(*p.Time)
	t, err := time.ParseInLocation(layoutWithSeconds, value, loc)
	if err != nil {
		t, err = time.ParseInLocation(layoutNoSeconds, value, loc)
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: date/time %q: %v", ErrMalformed, value, err)
	}
	if t.Year() < 2000 || t.Year() > 2099 {
		return Command{}, fmt.Errorf("%w: year %d outside 2000-2099", ErrMalformed, t.Year())
	}
	return Command{Kind: KindSetDateTime, Time: t}, nil
}

func decodeSchedule(s string) (Command, error) {
	var p schedulePayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Command{}, fmt.Errorf("%w: schedule json: %v", ErrMalformed, err)
	}
	if p.Start == nil || p.End == nil {
		return Command{}, fmt.Errorf("%w: schedule needs both \"startTimeIST\" and \"endTimeIST\"", ErrMalformed)
	}

	start, err := schedule.ParseTimeOfDay(*p.Start)
	if err != nil {
		return Command{}, fmt.Errorf("%w: start: %v", ErrMalformed, err)
	}
	end, err := schedule.ParseTimeOfDay(*p.End)
	if err != nil {
		return Command{}, fmt.Errorf("%w: end: %v", ErrMalformed, err)
	}
	return Command{Kind: KindSetSchedule, Start: start, End: end}, nil
}
