package bus

import (
	"fmt"

	"go.uber.org/zap"
)

// Address windows. Every supported expander family straps into 0x20-0x27.
const (
	ExpanderWindowStart uint8 = 0x20
	ExpanderWindowEnd   uint8 = 0x27
	FullScanStart       uint8 = 0x08
	FullScanEnd         uint8 = 0xF7
)

type Scanner struct {
	buses  Provider
	logger *zap.Logger
}

func NewScanner(buses Provider, logger *zap.Logger) *Scanner {
	return &Scanner{
		buses:  buses,
		logger: logger,
	}
}

// Scan probes [start, end] inclusive on busID and returns the addresses that
// ACKed in ascending order. It only fails if the bus itself cannot be opened.
func (s *Scanner) Scan(busID int, start, end uint8) ([]uint8, error) {
	t, err := s.buses.Open(busID)
	if err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}

	found := ProbeRange(t, start, end)

	s.logger.Debug("Bus scan complete",
		zap.Int("bus_id", busID),
		zap.String("range", fmt.Sprintf("0x%02X-0x%02X", start, end)),
		zap.Int("found", len(found)))

	return found, nil
}

// ScanExpanders sweeps the expander address window.
func (s *Scanner) ScanExpanders(busID int) ([]uint8, error) {
	return s.Scan(busID, ExpanderWindowStart, ExpanderWindowEnd)
}

// ScanAll sweeps the full diagnostic range.
func (s *Scanner) ScanAll(busID int) ([]uint8, error) {
	return s.Scan(busID, FullScanStart, FullScanEnd)
}

// Handshake re-probes a single address.
func (s *Scanner) Handshake(busID int, addr uint8) (bool, error) {
	found, err := s.Scan(busID, addr, addr)
	if err != nil {
		return false, err
	}
	return len(found) == 1, nil
}

// ProbeRange is the transport-level sweep behind Scan.
func ProbeRange(t Transport, start, end uint8) []uint8 {
	found := make([]uint8, 0)
	for a := int(start); a <= int(end); a++ {
		if t.Probe(uint8(a)) {
			found = append(found, uint8(a))
		}
	}
	return found
}
