package gpio

import (
	"errors"
	"fmt"
)

// valueSetter is the part of a requested output line that Set drives.
type valueSetter interface {
	SetValue(value int) error
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}

// setPair drives relay then LED to on. If the LED write fails the relay is
// put back to prev, so an error leaves both lines where the last successful
// call left them.
func setPair(relay, led valueSetter, prev, on bool) error {
	if err := relay.SetValue(level(on)); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	if err := led.SetValue(level(on)); err != nil {
		err = fmt.Errorf("set LED: %w", err)
		if rerr := relay.SetValue(level(prev)); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore relay: %w", rerr))
		}
		return err
	}
	return nil
}
