// Package bus holds the I2C transport seen by the expander drivers and the
// scanner, plus the registry that resolves bus ids to transports.
package bus

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/KevinKickass/PortExtender/internal/types"
	"go.uber.org/zap"
)

// ErrNoHardware is returned when a physical bus is requested but no driver is loaded.
var ErrNoHardware = errors.New("no i2c hardware driver available")

// Transport is the opaque set of primitives the drivers need. Probe never
// fails: a missing ACK is the expected answer for most addresses.
type Transport interface {
	Probe(addr uint8) bool
	WriteByte(addr, val uint8) error
	WriteByteRegister(addr, reg, val uint8) error
	WriteWordRegister(addr, reg uint8, val uint16) error
}

// Provider resolves a bus id to a transport.
type Provider interface {
	Open(busID int) (Transport, error)
}

// OpenFunc opens a physical bus by number.
type OpenFunc func(busID int) (Transport, error)

// Registry caches opened buses. Requests for types.SimulatedBusID, or any
// request while in demo mode, are served by the simulated bus.
type Registry struct {
	mu       sync.Mutex
	hardware OpenFunc
	sim      *Simulated
	demo     bool
	open     map[int]Transport
	logger   *zap.Logger
}

// NewRegistry builds a registry. hardware may be nil, which forces demo mode.
func NewRegistry(hardware OpenFunc, sim *Simulated, demo bool, logger *zap.Logger) *Registry {
	if hardware == nil {
		demo = true
	}
	return &Registry{
		hardware: hardware,
		sim:      sim,
		demo:     demo,
		open:     make(map[int]Transport),
		logger:   logger,
	}
}

func (r *Registry) Open(busID int) (Transport, error) {
	if busID == types.SimulatedBusID || r.demo {
		if r.sim == nil {
			return nil, fmt.Errorf("bus %d: %w", busID, ErrNoHardware)
		}
		return r.sim, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.open[busID]; ok {
		return t, nil
	}

	t, err := r.hardware(busID)
	if err != nil {
		return nil, fmt.Errorf("failed to open bus %d: %w", busID, err)
	}
	r.open[busID] = t

	r.logger.Info("I2C bus opened", zap.Int("bus_id", busID))
	return t, nil
}

// Demo reports whether every request is served by the simulated bus.
func (r *Registry) Demo() bool {
	return r.demo
}

// Available reports whether any transport can be handed out at all.
func (r *Registry) Available() bool {
	return r.hardware != nil || r.sim != nil
}

// Simulated returns the in-memory bus, nil if none was configured.
func (r *Registry) Simulated() *Simulated {
	return r.sim
}

// Close releases every physical bus opened so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, t := range r.open {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("bus %d: %w", id, err))
			}
		}
		delete(r.open, id)
	}
	return errors.Join(errs...)
}
