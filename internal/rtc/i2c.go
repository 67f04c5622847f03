package rtc

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// I2CBus is a Bus backed by a Linux I2C adapter.
type I2CBus struct {
	closer i2c.BusCloser
	dev    *i2c.Dev
}

// OpenI2C opens the named I2C bus ("" picks the first one available) and
// addresses the device at addr.
func OpenI2C(name string, addr uint16) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialise host drivers: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return &I2CBus{closer: b, dev: &i2c.Dev{Addr: addr, Bus: b}}, nil
}

// Tx writes w then reads len(r) bytes in one transaction.
func (b *I2CBus) Tx(w, r []byte) error {
	return b.dev.Tx(w, r)
}

// Close releases the bus.
func (b *I2CBus) Close() error {
	return b.closer.Close()
}
