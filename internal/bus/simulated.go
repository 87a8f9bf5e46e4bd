package bus

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// NoRegister marks a plain (register-less) write in a recorded Write.
const NoRegister = -1

// Write is one transaction seen by the simulated bus.
type Write struct {
	Addr  uint8
	Reg   int
	Value uint16
	Word  bool
}

// Simulated is an in-memory bus used in demo mode and as the test fake.
type Simulated struct {
	mu      sync.Mutex
	present map[uint8]bool
	failing map[uint8]error
	writes  []Write
	logger  *zap.Logger
}

// NewSimulated creates a bus with devices answering at addrs.
func NewSimulated(logger *zap.Logger, addrs ...uint8) *Simulated {
	s := &Simulated{
		present: make(map[uint8]bool),
		failing: make(map[uint8]error),
		logger:  logger,
	}
	for _, a := range addrs {
		s.present[a] = true
	}
	return s
}

// Attach makes a device answer at addr.
func (s *Simulated) Attach(addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[addr] = true
}

// Detach removes the device at addr.
func (s *Simulated) Detach(addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.present, addr)
}

// FailWrites makes every write to addr return err. A nil err clears it.
func (s *Simulated) FailWrites(addr uint8, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, addr)
		return
	}
	s.failing[addr] = err
}

// Addresses returns the attached addresses in ascending order.
func (s *Simulated) Addresses() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint8, 0, len(s.present))
	for a := range s.present {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Writes returns a copy of every write recorded so far.
func (s *Simulated) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// WritesTo returns the recorded writes addressed to addr.
func (s *Simulated) WritesTo(addr uint8) []Write {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Write
	for _, w := range s.writes {
		if w.Addr == addr {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites drops the write log.
func (s *Simulated) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

func (s *Simulated) Probe(addr uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[addr]
}

func (s *Simulated) WriteByte(addr, val uint8) error {
	return s.record(Write{Addr: addr, Reg: NoRegister, Value: uint16(val)})
}

func (s *Simulated) WriteByteRegister(addr, reg, val uint8) error {
	return s.record(Write{Addr: addr, Reg: int(reg), Value: uint16(val)})
}

func (s *Simulated) WriteWordRegister(addr, reg uint8, val uint16) error {
	return s.record(Write{Addr: addr, Reg: int(reg), Value: val, Word: true})
}

func (s *Simulated) record(w Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failing[w.Addr]; ok {
		return fmt.Errorf("write to 0x%02X failed: %w", w.Addr, err)
	}
	if !s.present[w.Addr] {
		return fmt.Errorf("write to 0x%02X failed: no ack", w.Addr)
	}
	s.writes = append(s.writes, w)

	s.logger.Debug("Simulated bus write",
		zap.String("address", fmt.Sprintf("0x%02X", w.Addr)),
		zap.Int("register", w.Reg),
		zap.Uint16("value", w.Value),
		zap.Bool("word", w.Word))
	return nil
}
