//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives the relay and status LED lines on actual hardware.
type RealWriter struct {
	chip  *gpiocdev.Chip
	relay *gpiocdev.Line
	led   *gpiocdev.Line
	on    bool // last level both lines were driven to
}

// NewRealWriter requests the relay and LED lines as outputs, initially low.
func NewRealWriter(chipName string, pinRelay, pinLED int) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	relay, err := chip.RequestLine(pinRelay, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pinRelay, err)
	}

	led, err := chip.RequestLine(pinLED, gpiocdev.AsOutput(0))
	if err != nil {
		relay.Close()
		chip.Close()
		return nil, fmt.Errorf("request LED pin %d: %w", pinLED, err)
	}

	return &RealWriter{
		chip:  chip,
		relay: relay,
		led:   led,
	}, nil
}

// Set drives both lines to the requested level, relay first. A failed LED
// write puts the relay back, so on error neither line has moved unless the
// restore itself failed.
func (w *RealWriter) Set(on bool) error {
	if err := setPair(w.relay, w.led, w.on, on); err != nil {
		return err
	}
	w.on = on
	return nil
}

// Close drives the lines low and releases them.
func (w *RealWriter) Close() error {
	var errs []error

	for name, line := range map[string]*gpiocdev.Line{"relay": w.relay, "LED": w.led} {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive %s low: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealSensor watches the sensor line for falling edges.
type RealSensor struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealSensor requests the sensor line as an input with pull-up and falling
// edge detection. handler runs on the gpiocdev event goroutine.
func NewRealSensor(chipName string, pin int, handler EdgeHandler) (*RealSensor, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Timestamp)
		}),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request sensor pin %d: %w", pin, err)
	}

	return &RealSensor{chip: chip, line: line}, nil
}

// Close stops edge delivery and releases the line.
func (s *RealSensor) Close() error {
	var errs []error
	if s.line != nil {
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sensor pin: %w", err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
