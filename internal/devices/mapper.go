package devices

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ApplyStationStates is the output mapper entry point for callers that only
// have the vector at hand.
func (m *Manager) ApplyStationStates(stations []bool) error {
	m.mu.Lock()
	err := m.applyStationStatesLocked(stations)
	m.mu.Unlock()

	m.notify()
	return err
}

// applyStationStatesLocked writes each device's slice of stations. A device
// whose slice is out of reach is skipped and a failing device does not stop
// the others. The cycle's warning replaces the previous cycle's.
func (m *Manager) applyStationStatesLocked(stations []bool) error {
	if !m.cfg.Status.Active() {
		m.logger.Warn("Station change ignored, port extender not configured",
			zap.String("status", string(m.cfg.Status)))
		return fmt.Errorf("%w: status %s", ErrNotConfigured, m.cfg.Status)
	}
	if len(m.handles) != len(m.cfg.Devices) {
		m.logger.Warn("Station change ignored, device handles out of sync",
			zap.Int("handles", len(m.handles)),
			zap.Int("devices", len(m.cfg.Devices)))
		return fmt.Errorf("%w: %d handles for %d devices", ErrNotConfigured, len(m.handles), len(m.cfg.Devices))
	}

	var errs []error
	for _, h := range m.handles {
		d := h.Config
		if d.Last > len(stations) {
			m.logger.Warn("Station vector shorter than device slice, skipping device",
				zap.Int("device_index", h.Index),
				zap.String("address", fmt.Sprintf("0x%02X", d.Address)),
				zap.Int("slice_end", d.Last),
				zap.Int("stations", len(stations)))
			errs = append(errs, fmt.Errorf("%w: device %d needs stations [%d:%d], got %d",
				ErrStationDrift, h.Index, d.First, d.Last, len(stations)))
			continue
		}

		bits := Fold(stations[d.First:d.Last])

		if m.cfg.Debug {
			m.logger.Info("Writing device outputs",
				zap.Int("device_index", h.Index),
				zap.String("address", fmt.Sprintf("0x%02X", d.Address)),
				zap.String("bits", fmt.Sprintf("0x%04X", bits)))
		} else {
			m.logger.Debug("Writing device outputs",
				zap.Int("device_index", h.Index),
				zap.Uint16("bits", bits))
		}

		if err := h.Driver.SetOutput(bits); err != nil {
			m.logger.Error("Device write failed",
				zap.Int("device_index", h.Index),
				zap.String("address", fmt.Sprintf("0x%02X", d.Address)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: device %d at 0x%02X: %w", ErrTransport, h.Index, d.Address, err))
		}
	}

	if m.cfg.NumConfiguredStations < len(stations) {
		m.logger.Warn("More stations than configured outputs, extra stations left unset",
			zap.Int("configured_stations", m.cfg.NumConfiguredStations),
			zap.Int("stations", len(stations)))
		errs = append(errs, fmt.Errorf("%w: %d stations, %d outputs",
			ErrCapacityMismatch, len(stations), m.cfg.NumConfiguredStations))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.outputWarn = err.Error()
		return err
	}
	m.outputWarn = ""
	return nil
}
