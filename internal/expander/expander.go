// Package expander drives the supported I2C GPIO expanders as plain output ports.
//
// Bit 0 of every value handed to SetOutput is the lowest station of the
// device's slice. Polarity is applied here, not by the caller.
package expander

import (
	"fmt"

	"github.com/KevinKickass/PortExtender/internal/bus"
	"github.com/KevinKickass/PortExtender/internal/types"
)

// Driver is one initialized expander.
type Driver interface {
	SetOutput(bits uint16) error
	Off() error
	Type() types.ICType
	Address() uint8
	Width() int
}

// New builds the driver for ic and performs its one-time power-on
// initialization: outputs are preset to the off level before any direction
// register is switched to output, so relays never pulse during bring-up.
func New(t bus.Transport, ic types.ICType, addr uint8, activeLow bool) (Driver, error) {
	p := port{
		t:         t,
		ic:        ic,
		addr:      addr,
		width:     ic.PortWidth(),
		activeLow: activeLow,
	}

	var d Driver
	switch ic {
	case types.ICTypeMCP23017:
		d = &mcp23017{port: p}
	case types.ICTypeMCP2308:
		d = &mcp2308{port: p}
	case types.ICTypePCF8575:
		d = &pcf8575{port: p}
	case types.ICTypePCF8574:
		d = &pcf8574{port: p}
	default:
		return nil, fmt.Errorf("unsupported device type requested: %q", ic)
	}

	if err := d.(initializer).init(); err != nil {
		return nil, fmt.Errorf("%s at 0x%02X: initialization failed: %w", ic, addr, err)
	}
	return d, nil
}

type initializer interface {
	init() error
}

// Mask returns the all-ones value for a port of the given width.
func Mask(width int) uint16 {
	if width >= 16 {
		return 0xFFFF
	}
	return uint16(1)<<width - 1
}

// Invert flips every bit of x within width. Invert(Invert(x, w), w) == x.
func Invert(x uint16, width int) uint16 {
	return (x ^ Mask(width)) & Mask(width)
}

// port carries what all families share: address, width and polarity.
type port struct {
	t         bus.Transport
	ic        types.ICType
	addr      uint8
	width     int
	activeLow bool
}

func (p *port) Type() types.ICType { return p.ic }
func (p *port) Address() uint8     { return p.addr }
func (p *port) Width() int         { return p.width }

// wire converts station bits to the level written to the pins. With
// active-low relays a 0 energizes the coil.
func (p *port) wire(bits uint16) uint16 {
	if p.activeLow {
		return Invert(bits, p.width)
	}
	return bits & Mask(p.width)
}

// offLevel is the pin level that leaves every station off.
func (p *port) offLevel() uint16 {
	return p.wire(0)
}
