package expander

// MCP23017 register addresses with IOCON.BANK=0 (power-on default, paired mode).
const (
	mcp23017IODIRA = 0x00
	mcp23017IODIRB = 0x01
	mcp23017GPIOA  = 0x12
)

// MCP23008 register addresses.
const (
	mcp2308IODIR = 0x00
	mcp2308GPIO  = 0x09
)

// Direction register value that makes every pin an output.
const allOutputs = 0x00

// mcp23017 has 16 push-pull outputs that sink or source 25 mA, so it can
// drive relay boards of either polarity. In sequential mode a word write
// at GPIOA lands the low byte in bank A and the high byte in bank B.
type mcp23017 struct {
	port
}

func (d *mcp23017) init() error {
	if err := d.t.WriteWordRegister(d.addr, mcp23017GPIOA, d.offLevel()); err != nil {
		return err
	}
	if err := d.t.WriteByteRegister(d.addr, mcp23017IODIRA, allOutputs); err != nil {
		return err
	}
	return d.t.WriteByteRegister(d.addr, mcp23017IODIRB, allOutputs)
}

func (d *mcp23017) SetOutput(bits uint16) error {
	return d.t.WriteWordRegister(d.addr, mcp23017GPIOA, d.wire(bits))
}

func (d *mcp23017) Off() error {
	return d.SetOutput(0)
}

// mcp2308 is the 8-bit member of the family (MCP23008).
type mcp2308 struct {
	port
}

func (d *mcp2308) init() error {
	if err := d.t.WriteByteRegister(d.addr, mcp2308GPIO, uint8(d.offLevel())); err != nil {
		return err
	}
	return d.t.WriteByteRegister(d.addr, mcp2308IODIR, allOutputs)
}

func (d *mcp2308) SetOutput(bits uint16) error {
	return d.t.WriteByteRegister(d.addr, mcp2308GPIO, uint8(d.wire(bits)))
}

func (d *mcp2308) Off() error {
	return d.SetOutput(0)
}
