// Package history records light transitions and temperature readings to
// InfluxDB for long-term graphs.
package history

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/light-controller/internal/light"
)

// Recorder accepts history points. Implementations must not block the caller.
type Recorder interface {
	RecordLight(st light.State, at time.Time)
	RecordTemperature(celsius float64, at time.Time)
	Close() error
}

// Nop discards everything. It is used when history is disabled.
type Nop struct{}

func (Nop) RecordLight(light.State, time.Time)   {}
func (Nop) RecordTemperature(float64, time.Time) {}
func (Nop) Close() error                         { return nil }

const (
	measurementLight       = "light"
	measurementTemperature = "rtc_temperature"
)

func lightPoint(device string, st light.State, at time.Time) *write.Point {
	on := 0
	if st.On {
		on = 1
	}
	return write.NewPoint(
		measurementLight,
		map[string]string{
			"device": device,
			"owner":  st.Owner.String(),
		},
		map[string]interface{}{
			"on": on,
		},
		at,
	)
}

func temperaturePoint(device string, celsius float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementTemperature,
		map[string]string{"device": device},
		map[string]interface{}{"celsius": celsius},
		at,
	)
}
