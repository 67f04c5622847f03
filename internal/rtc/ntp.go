package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServers are tried in order.
var DefaultNTPServers = []string{"pool.ntp.org", "time.nist.gov"}

// NTPSource is a NetworkTime backed by SNTP queries.
type NTPSource struct {
	Servers []string
	Timeout time.Duration
}

// Now returns the time from the first server that gives a valid answer.
func (s NTPSource) Now() (time.Time, error) {
	if len(s.Servers) == 0 {
		return time.Time{}, errors.New("no ntp servers configured")
	}
	var errs []error
	for _, server := range s.Servers {
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: s.Timeout})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if err := resp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return time.Now().Add(resp.ClockOffset), nil
	}
	return time.Time{}, errors.Join(errs...)
}
