// Package host is the controller side of the port extender: it holds the
// station vector and options the irrigation controller last reported and
// the flag asking it to stop driving its native shift-register output.
package host

import (
	"sync"

	"github.com/KevinKickass/PortExtender/internal/types"
	"go.uber.org/zap"
)

type Adapter struct {
	mu             sync.RWMutex
	state          types.HostState
	nativeDisabled bool
	logger         *zap.Logger
}

func NewAdapter(initial types.HostState, logger *zap.Logger) *Adapter {
	a := &Adapter{logger: logger}
	a.state = copyState(initial)
	if a.state.Stations == nil {
		a.state.Stations = make([]bool, initial.StationCount)
	}
	return a
}

// Snapshot returns a copy that callers may hand to the engine.
func (a *Adapter) Snapshot() types.HostState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyState(a.state)
}

// SetStations records a new station vector. Its length is not forced to
// the station count; a mismatch is for the engine to report.
func (a *Adapter) SetStations(stations []bool) types.HostState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Stations = append([]bool(nil), stations...)
	return copyState(a.state)
}

// SetOptions records a station count or polarity change. The station vector
// is resized, keeping the states that still exist.
func (a *Adapter) SetOptions(stationCount int, activeLow bool) types.HostState {
	a.mu.Lock()
	defer a.mu.Unlock()

	if stationCount != len(a.state.Stations) {
		resized := make([]bool, stationCount)
		copy(resized, a.state.Stations)
		a.state.Stations = resized
	}
	a.state.StationCount = stationCount
	a.state.ActiveLow = activeLow

	a.logger.Info("Host options changed",
		zap.Int("station_count", stationCount),
		zap.Bool("active_low", activeLow))
	return copyState(a.state)
}

func (a *Adapter) SetNativeOutputDisabled(disabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nativeDisabled != disabled {
		a.logger.Info("Native output path toggled", zap.Bool("disabled", disabled))
	}
	a.nativeDisabled = disabled
}

func (a *Adapter) NativeOutputDisabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nativeDisabled
}

func copyState(s types.HostState) types.HostState {
	out := s
	if s.Stations != nil {
		out.Stations = append([]bool(nil), s.Stations...)
	}
	return out
}
