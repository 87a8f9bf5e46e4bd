package bus

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// InitHost loads the periph host drivers. It fails on machines without an
// I2C controller, which is how the server decides to fall back to demo mode.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("could not init i2c host: %w", err)
	}
	return nil
}

// PeriphBus is a Transport over a periph.io I2C bus.
type PeriphBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

// OpenPeriph opens the bus by number, e.g. 1 for /dev/i2c-1.
func OpenPeriph(busID int) (Transport, error) {
	b, err := i2creg.Open(strconv.Itoa(busID))
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %d: %w", busID, err)
	}
	return &PeriphBus{bus: b}, nil
}

// Probe reads a single byte. Every supported expander tolerates a bare read,
// and the kernel adapter rejects zero-length transfers.
func (p *PeriphBus) Probe(addr uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 1)
	return p.bus.Tx(uint16(addr), nil, buf) == nil
}

func (p *PeriphBus) WriteByte(addr, val uint8) error {
	return p.tx(addr, []byte{val})
}

func (p *PeriphBus) WriteByteRegister(addr, reg, val uint8) error {
	return p.tx(addr, []byte{reg, val})
}

// WriteWordRegister follows SMBus word framing: low byte first.
func (p *PeriphBus) WriteWordRegister(addr, reg uint8, val uint16) error {
	return p.tx(addr, []byte{reg, byte(val), byte(val >> 8)})
}

func (p *PeriphBus) Close() error {
	return p.bus.Close()
}

func (p *PeriphBus) tx(addr uint8, w []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.bus.Tx(uint16(addr), w, nil); err != nil {
		return fmt.Errorf("write to 0x%02X failed: %w", addr, err)
	}
	return nil
}
