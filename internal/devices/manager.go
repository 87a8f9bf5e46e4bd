package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/PortExtender/internal/bus"
	"github.com/KevinKickass/PortExtender/internal/expander"
	"github.com/KevinKickass/PortExtender/internal/storage"
	"github.com/KevinKickass/PortExtender/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Input and persistence failures of the settings surface. Reconciliation
// outcomes use the kinds in errors.go.
var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrPersistence     = errors.New("failed to persist configuration")
)

// HostOutput is the write side of the host controller.
type HostOutput interface {
	SetNativeOutputDisabled(disabled bool)
}

// StatusListener is called after every change of the status report.
type StatusListener func(types.StatusReport)

// Handle is one live driver bound to a device entry. Handles are rebuilt on
// every reconciliation and never persisted.
type Handle struct {
	ID     uuid.UUID
	Index  int
	Config types.DeviceConfig
	Driver expander.Driver
}

// HandleInfo is the exported view of a Handle.
type HandleInfo struct {
	ID     uuid.UUID          `json:"id"`
	Index  int                `json:"index"`
	Config types.DeviceConfig `json:"config"`
}

// ManualDevice is one user-entered device. Its station slice is derived.
type ManualDevice struct {
	BusID   int          `json:"bus_id"`
	Address uint8        `json:"hw_addr"`
	ICType  types.ICType `json:"ic_type"`
}

// SettingsUpdate carries the editable settings; nil fields are left as is.
type SettingsUpdate struct {
	DefaultBusID  *int           `json:"default_smbus,omitempty"`
	DefaultICType *types.ICType  `json:"default_ic_type,omitempty"`
	AutoConfigure *bool          `json:"auto_configure,omitempty"`
	Debug         *bool          `json:"debug,omitempty"`
	Disabled      *bool          `json:"disabled,omitempty"`
	Devices       []ManualDevice `json:"dev_configs,omitempty"`
}

// Manager is the configuration engine. It owns the persisted configuration
// and the driver handles; every entry point runs under one mutex.
type Manager struct {
	mu        sync.Mutex
	cfg       types.PexConfiguration
	handles   []*Handle
	buses     bus.Provider
	scanner   *bus.Scanner
	store     storage.ConfigStore
	validator *Validator
	host      HostOutput

	defaultBusID   int
	nativeDisabled bool
	outputWarn     string

	// notifyMu orders listener delivery; it is taken before mu.
	notifyMu   sync.Mutex
	listeners  []StatusListener
	lastReport types.StatusReport

	logger *zap.Logger
}

func NewManager(buses bus.Provider, store storage.ConfigStore, host HostOutput, defaultBusID int, logger *zap.Logger) (*Manager, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	cfg := types.DefaultPexConfiguration()
	cfg.DefaultBusID = defaultBusID

	return &Manager{
		cfg:          cfg,
		buses:        buses,
		scanner:      bus.NewScanner(buses, logger),
		store:        store,
		validator:    validator,
		host:         host,
		defaultBusID: defaultBusID,
		logger:       logger,
	}, nil
}

// OnStatus registers a listener for status report changes.
func (m *Manager) OnStatus(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Load reads the persisted configuration, falling back to defaults when it
// is missing or cannot be trusted, then reconciles and saves. The returned
// error is the reconciliation outcome; the engine stays usable either way.
func (m *Manager) Load(ctx context.Context, host types.HostState) error {
	m.mu.Lock()
	m.cfg = m.loadLocked(ctx)
	err := m.reconcileLocked(host)
	if serr := m.saveLocked(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	m.mu.Unlock()

	m.notify()
	return err
}

func (m *Manager) loadLocked(ctx context.Context) types.PexConfiguration {
	fallback := types.DefaultPexConfiguration()
	fallback.DefaultBusID = m.defaultBusID

	data, err := m.store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Info("No stored port extender configuration, using defaults")
		return fallback
	}
	if err != nil {
		m.logger.Warn("Failed to read port extender configuration, using defaults", zap.Error(err))
		return fallback
	}

	unknown, err := m.validator.ValidateConfig(data)
	if err != nil {
		m.logger.Warn("Stored port extender configuration rejected, using defaults", zap.Error(err))
		return fallback
	}
	if len(unknown) > 0 {
		m.logger.Info("Ignoring unknown configuration keys", zap.Strings("keys", unknown))
	}

	var cfg types.PexConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		m.logger.Warn("Failed to decode port extender configuration, using defaults", zap.Error(err))
		return fallback
	}
	if cfg.Devices == nil {
		cfg.Devices = []types.DeviceConfig{}
	}
	if cfg.DiscoveredDevices == nil {
		cfg.DiscoveredDevices = []int{}
	}

	m.logger.Info("Port extender configuration loaded",
		zap.String("status", string(cfg.Status)),
		zap.Int("devices", len(cfg.Devices)),
		zap.Bool("auto_configure", cfg.AutoConfigure))
	return cfg
}

// Reconcile re-derives status and handles for the given host snapshot and saves.
func (m *Manager) Reconcile(ctx context.Context, host types.HostState) error {
	m.mu.Lock()
	err := m.reconcileLocked(host)
	if serr := m.saveLocked(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	m.mu.Unlock()

	m.notify()
	return err
}

// OnHostOptionsChange handles a change of the host station count or
// polarity. An active configuration that still matches is left alone.
func (m *Manager) OnHostOptionsChange(ctx context.Context, host types.HostState) error {
	m.mu.Lock()
	unchanged := m.cfg.Status.Active() &&
		host.StationCount == m.cfg.NumHostStations &&
		host.ActiveLow == m.cfg.ActiveLowLogic
	m.mu.Unlock()

	if unchanged {
		return nil
	}

	m.logger.Info("Host options changed, reconciling",
		zap.Int("stations", host.StationCount),
		zap.Bool("active_low", host.ActiveLow))
	return m.Reconcile(ctx, host)
}

// OnStationChange drives the current station vector out to the devices.
func (m *Manager) OnStationChange(host types.HostState) error {
	m.mu.Lock()
	if host.ActiveLow != m.cfg.ActiveLowLogic && m.cfg.Status.Active() {
		m.logger.Warn("Host polarity differs from the active configuration",
			zap.Bool("host_active_low", host.ActiveLow),
			zap.Bool("configured_active_low", m.cfg.ActiveLowLogic))
	}
	err := m.applyStationStatesLocked(host.Stations)
	m.mu.Unlock()

	m.notify()
	return err
}

// Update applies a settings change, reconciles and always saves, so the
// attempted configuration stays visible even when it is rejected.
func (m *Manager) Update(ctx context.Context, u SettingsUpdate, host types.HostState) error {
	if err := u.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if u.DefaultBusID != nil {
		m.cfg.DefaultBusID = *u.DefaultBusID
	}
	if u.DefaultICType != nil {
		m.cfg.DefaultICType = *u.DefaultICType
	}
	if u.AutoConfigure != nil {
		m.cfg.AutoConfigure = *u.AutoConfigure
	}
	if u.Debug != nil {
		m.cfg.Debug = *u.Debug
	}
	if u.Disabled != nil {
		m.cfg.Disabled = *u.Disabled
	}
	if u.Devices != nil {
		devs := make([]types.DeviceConfig, len(u.Devices))
		for i, d := range u.Devices {
			devs[i] = types.DeviceConfig{BusID: d.BusID, Address: d.Address, ICType: d.ICType}
		}
		m.cfg.Devices = LayoutDevices(devs, host.StationCount)
	}

	err := m.reconcileLocked(host)
	if serr := m.saveLocked(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	report := m.reportLocked()
	m.mu.Unlock()

	m.logger.Info("Port extender settings updated",
		zap.String("status", string(report.Status)),
		zap.Int("devices", report.DeviceCount))

	m.notify()
	return err
}

func (u SettingsUpdate) validate() error {
	var errs []error
	if u.DefaultICType != nil && !u.DefaultICType.Valid() {
		errs = append(errs, fmt.Errorf("default_ic_type %q is not supported", *u.DefaultICType))
	}
	for i, d := range u.Devices {
		if !d.ICType.Valid() {
			errs = append(errs, fmt.Errorf("device %d: ic_type %q is not supported", i, d.ICType))
		}
		if d.Address < minDeviceAddress || d.Address > maxDeviceAddress {
			errs = append(errs, fmt.Errorf("device %d: address 0x%02X out of range", i, d.Address))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// reconcileLocked is the state machine. It never leaves handles from a
// previous pass in place.
func (m *Manager) reconcileLocked(host types.HostState) error {
	prev := m.cfg.Status
	m.handles = nil
	m.outputWarn = ""
	m.cfg.NumHostStations = host.StationCount
	m.cfg.ActiveLowLogic = host.ActiveLow

	if m.cfg.Disabled || !m.available() {
		m.cfg.Status = types.StatusDisabled
		m.cfg.NumConfiguredStations = Capacity(m.cfg.Devices)
		if m.cfg.Disabled {
			m.cfg.WarnMsg = "Port extender disabled in settings"
		} else {
			m.cfg.WarnMsg = "No I2C bus transport available"
		}
		m.logger.Info("Port extender disabled", zap.String("reason", m.cfg.WarnMsg))
		return fmt.Errorf("%w: %s", ErrDisabled, m.cfg.WarnMsg)
	}

	var err error
	if m.cfg.AutoConfigure {
		var devs []types.DeviceConfig
		devs, err = m.autoConfigLocked(host.StationCount)
		m.cfg.Devices = devs
		m.cfg.NumConfiguredStations = Capacity(devs)
	} else {
		// The stored slices reflect the station count at save time; the
		// same devices are laid out again for the current host.
		if err = CheckLayout(m.cfg.Devices); err == nil {
			m.cfg.Devices = LayoutDevices(m.cfg.Devices, host.StationCount)
		}
		m.cfg.NumConfiguredStations = Capacity(m.cfg.Devices)
		if err == nil {
			err = m.verifyHardwareConfigLocked(host.StationCount)
		}
	}

	if err == nil && len(m.cfg.Devices) == 0 {
		err = fmt.Errorf("%w: no devices configured", ErrCapacityMismatch)
	}
	if err == nil && m.cfg.NumConfiguredStations < host.StationCount {
		err = fmt.Errorf("%w: %d stations configured, host has %d",
			ErrCapacityMismatch, m.cfg.NumConfiguredStations, host.StationCount)
	}
	if err != nil {
		return m.rejectLocked(err)
	}

	m.cfg.Status = types.StatusConfigured
	if err := m.activateLocked(); err != nil {
		return m.rejectLocked(err)
	}
	m.cfg.Status = types.StatusRunning
	m.cfg.WarnMsg = ""

	if !prev.Active() || !m.nativeDisabled {
		m.nativeDisabled = true
		if m.host != nil {
			m.host.SetNativeOutputDisabled(true)
		}
	}

	m.logger.Info("Port extender running",
		zap.Int("devices", len(m.handles)),
		zap.Int("configured_stations", m.cfg.NumConfiguredStations),
		zap.Int("host_stations", host.StationCount),
		zap.Bool("active_low", host.ActiveLow))
	return nil
}

func (m *Manager) rejectLocked(err error) error {
	m.handles = nil
	m.cfg.Status = types.StatusUnconfigured
	m.cfg.WarnMsg = err.Error()
	m.logger.Warn("Port extender not configured", zap.Error(err))
	return err
}

// activateLocked builds one driver per device. Any failure drops all of
// them; partial activation is never kept.
func (m *Manager) activateLocked() error {
	handles := make([]*Handle, 0, len(m.cfg.Devices))
	var errs []error
	for i, d := range m.cfg.Devices {
		t, err := m.buses.Open(d.BusID)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
			continue
		}
		drv, err := expander.New(t, d.ICType, d.Address, m.cfg.ActiveLowLogic)
		if err != nil {
			m.logger.Error("Device initialization failed",
				zap.Int("device_index", i),
				zap.String("address", fmt.Sprintf("0x%02X", d.Address)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
			continue
		}
		handles = append(handles, &Handle{
			ID:     uuid.New(),
			Index:  i,
			Config: d,
			Driver: drv,
		})
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrTransport, errors.Join(errs...))
	}
	m.handles = handles
	return nil
}

// verifyHardwareConfigLocked checks a persisted device list against the
// layout rules and the live bus. It never mutates the devices.
func (m *Manager) verifyHardwareConfigLocked(stations int) error {
	if err := CheckLayout(m.cfg.Devices); err != nil {
		return err
	}

	var errs []error
	for i, d := range m.cfg.Devices {
		ok, err := m.scanner.Handshake(d.BusID, d.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d at 0x%02X: %w", i, d.Address, err))
			continue
		}
		if !ok {
			m.logger.Warn("Device did not acknowledge handshake",
				zap.Int("device_index", i),
				zap.Int("bus_id", d.BusID),
				zap.String("address", fmt.Sprintf("0x%02X", d.Address)),
				zap.String("ic_type", string(d.ICType)))
			errs = append(errs, fmt.Errorf("device %d at 0x%02X did not acknowledge", i, d.Address))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrHandshakeFailure, errors.Join(errs...))
	}

	width := 0
	for _, d := range m.cfg.Devices {
		width += d.PortWidth - d.Unused
	}
	if width != m.cfg.NumConfiguredStations || width < stations {
		return fmt.Errorf("%w: devices provide %d stations, host has %d",
			ErrCapacityMismatch, width, stations)
	}
	return nil
}

// autoConfigLocked scans the default bus and derives the device list. The
// scan result is kept for the settings page even when it falls short.
func (m *Manager) autoConfigLocked(stations int) ([]types.DeviceConfig, error) {
	found, err := m.scanner.ScanExpanders(m.cfg.DefaultBusID)
	if err != nil {
		return []types.DeviceConfig{}, fmt.Errorf("%w: %w", ErrDiscoveryShortfall, err)
	}
	m.cfg.DiscoveredDevices = addressesToInts(found)

	devs, err := AutoConfig(m.cfg.DefaultBusID, m.cfg.DefaultICType, found, stations)
	if err != nil {
		return devs, err
	}

	m.logger.Info("Auto-configuration complete",
		zap.Int("bus_id", m.cfg.DefaultBusID),
		zap.String("ic_type", string(m.cfg.DefaultICType)),
		zap.Int("devices", len(devs)),
		zap.Int("stations", stations))
	return devs, nil
}

func (m *Manager) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(m.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := m.store.Save(ctx, data); err != nil {
		m.logger.Error("Failed to save port extender configuration", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Scan sweeps busID, the expander window by default or the full diagnostic
// range. Expander-window results are saved as discovered devices; a failed
// save still returns what was found.
func (m *Manager) Scan(ctx context.Context, busID int, full bool) ([]uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if full {
		return m.scanner.ScanAll(busID)
	}
	found, err := m.scanner.ScanExpanders(busID)
	if err != nil {
		return nil, err
	}
	m.cfg.DiscoveredDevices = addressesToInts(found)
	if err := m.saveLocked(ctx); err != nil {
		return found, err
	}
	return found, nil
}

// TestWrite issues one direct byte write for hardware bring-up. In demo mode
// the write is only logged.
func (m *Manager) TestWrite(busID int, addr, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.buses.(interface{ Demo() bool }); ok && d.Demo() {
		m.logger.Info("Test write (demo mode, not sent)",
			zap.Int("bus_id", busID),
			zap.String("address", fmt.Sprintf("0x%02X", addr)),
			zap.String("value", fmt.Sprintf("0x%02X", value)))
		return nil
	}

	t, err := m.buses.Open(busID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := t.WriteByte(addr, value); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	m.logger.Info("Test write sent",
		zap.Int("bus_id", busID),
		zap.String("address", fmt.Sprintf("0x%02X", addr)),
		zap.String("value", fmt.Sprintf("0x%02X", value)))
	return nil
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() types.PexConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg.Clone()
	cfg.WarnMsg = m.warnLocked()
	return cfg
}

func (m *Manager) Status() types.StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked()
}

// Handles lists the live driver handles in mapping order.
func (m *Manager) Handles() []HandleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HandleInfo, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, HandleInfo{ID: h.ID, Index: h.Index, Config: h.Config})
	}
	return out
}

// Shutdown drives every device to its off level and releases the handles.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, h := range m.handles {
		if err := h.Driver.Off(); err != nil {
			m.logger.Error("Failed to switch device off",
				zap.Int("device_index", h.Index),
				zap.String("address", fmt.Sprintf("0x%02X", h.Config.Address)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("device %d: %w", h.Index, err))
		}
	}
	m.handles = nil
	return errors.Join(errs...)
}

func (m *Manager) reportLocked() types.StatusReport {
	return types.StatusReport{
		Status:                m.cfg.Status,
		WarnMsg:               m.warnLocked(),
		AutoConfigure:         m.cfg.AutoConfigure,
		DeviceCount:           len(m.cfg.Devices),
		NumConfiguredStations: m.cfg.NumConfiguredStations,
		NumHostStations:       m.cfg.NumHostStations,
		NativeOutputDisabled:  m.nativeDisabled,
	}
}

// warnLocked prefers the reconciliation warning over the last output cycle's.
func (m *Manager) warnLocked() string {
	if m.cfg.WarnMsg != "" {
		return m.cfg.WarnMsg
	}
	return m.outputWarn
}

// notify publishes the live report if it changed since the last delivery.
// Listeners run outside mu so they may read from the manager, but must not
// trigger another notify.
func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	report := m.reportLocked()
	if report == m.lastReport {
		m.mu.Unlock()
		return
	}
	m.lastReport = report
	listeners := append([]StatusListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(report)
	}
}

func (m *Manager) available() bool {
	if a, ok := m.buses.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return m.buses != nil
}

func addressesToInts(addrs []uint8) []int {
	out := make([]int, len(addrs))
	for i, a := range addrs {
		out[i] = int(a)
	}
	return out
}
