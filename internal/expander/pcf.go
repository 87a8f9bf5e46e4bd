package expander

// pcf8575 has no registers. Consecutive plain writes latch into the low and
// then the high port. Pins are quasi-bidirectional: a 1 releases the pin to
// the weak pull-up, a 0 sinks up to 25 mA.
type pcf8575 struct {
	port
}

// init needs no direction setup; the off-level write is the whole bring-up.
func (d *pcf8575) init() error {
	return d.write(d.offLevel())
}

func (d *pcf8575) SetOutput(bits uint16) error {
	return d.write(d.wire(bits))
}

func (d *pcf8575) Off() error {
	return d.SetOutput(0)
}

func (d *pcf8575) write(v uint16) error {
	if err := d.t.WriteByte(d.addr, uint8(v)); err != nil {
		return err
	}
	return d.t.WriteByte(d.addr, uint8(v>>8))
}

// pcf8574 is the 8-bit sibling.
type pcf8574 struct {
	port
}

func (d *pcf8574) init() error {
	return d.t.WriteByte(d.addr, uint8(d.offLevel()))
}

func (d *pcf8574) SetOutput(bits uint16) error {
	return d.t.WriteByte(d.addr, uint8(d.wire(bits)))
}

func (d *pcf8574) Off() error {
	return d.SetOutput(0)
}
