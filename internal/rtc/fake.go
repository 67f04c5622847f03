package rtc

import (
	"errors"
	"sync"
	"time"
)

// FakeBus emulates the DS3231 register file for tests.
type FakeBus struct {
	mu        sync.Mutex
	Regs      [0x13]byte
	TxError   error
	WriteLog  [][]byte
	Transfers int

	// Hold, when non-nil, blocks every transaction until it is closed.
	Hold chan struct{}
}

// Tx sets the register pointer from w[0], stores any further bytes of w, then
// fills r from the pointer onwards.
func (b *FakeBus) Tx(w, r []byte) error {
	if b.Hold != nil {
		<-b.Hold
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Transfers++
	if b.TxError != nil {
		return b.TxError
	}
	if len(w) == 0 {
		return nil
	}
	ptr := int(w[0])
	if len(w) > 1 {
		b.WriteLog = append(b.WriteLog, append([]byte(nil), w...))
	}
	for _, v := range w[1:] {
		b.Regs[ptr%len(b.Regs)] = v
		ptr++
	}
	for i := range r {
		r[i] = b.Regs[ptr%len(b.Regs)]
		ptr++
	}
	return nil
}

// Writes returns the number of register writes seen.
func (b *FakeBus) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.WriteLog)
}

// SetTime loads the time registers with t, as the chip would hold it.
func (b *FakeBus) SetTime(t time.Time) {
	regs, err := encodeTime(t)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.Regs[regSeconds:], regs[:])
}

// SetTemperature loads the temperature registers.
func (b *FakeBus) SetTemperature(msb, lsb byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Regs[regTempMSB] = msb
	b.Regs[regTempLSB] = lsb
}

// SetError makes every later transaction fail with err (nil clears it).
func (b *FakeBus) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TxError = err
}

// FakeHostClock records Set calls.
type FakeHostClock struct {
	mu     sync.Mutex
	Times  []time.Time
	SetErr error
}

// Set records t.
func (c *FakeHostClock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	c.Times = append(c.Times, t)
	return nil
}

// Calls returns how many times Set succeeded.
func (c *FakeHostClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Times)
}

// FakeNetworkTime fails Failures times, then returns At.
type FakeNetworkTime struct {
	mu       sync.Mutex
	At       time.Time
	Failures int
	Err      error
	Queries  int
}

// Now returns At once the configured failures are used up.
func (n *FakeNetworkTime) Now() (time.Time, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Queries++
	if n.Queries <= n.Failures {
		if n.Err == nil {
			return time.Time{}, errors.New("no reply")
		}
		return time.Time{}, n.Err
	}
	return n.At, nil
}
