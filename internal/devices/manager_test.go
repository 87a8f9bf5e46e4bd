package devices

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/KevinKickass/PortExtender/internal/bus"
	"github.com/KevinKickass/PortExtender/internal/storage"
	"github.com/KevinKickass/PortExtender/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hostRecorder struct {
	calls []bool
}

func (h *hostRecorder) SetNativeOutputDisabled(disabled bool) {
	h.calls = append(h.calls, disabled)
}

// simProvider hands out the simulated bus without demo semantics.
type simProvider struct {
	*bus.Simulated
}

func (p simProvider) Open(int) (bus.Transport, error) {
	return p.Simulated, nil
}

type fixture struct {
	m     *Manager
	sim   *bus.Simulated
	store *storage.MemoryStore
	host  *hostRecorder
}

func newFixture(t *testing.T, stored *types.PexConfiguration, addrs ...uint8) *fixture {
	t.Helper()
	logger := zap.NewNop()

	var initial []byte
	if stored != nil {
		data, err := json.Marshal(stored)
		require.NoError(t, err)
		initial = data
	}

	sim := bus.NewSimulated(logger, addrs...)
	store := storage.NewMemoryStore(initial)
	host := &hostRecorder{}

	m, err := NewManager(bus.NewRegistry(nil, sim, true, logger), store, host, 1, logger)
	require.NoError(t, err)

	return &fixture{m: m, sim: sim, store: store, host: host}
}

func autoConfig(ic types.ICType) *types.PexConfiguration {
	cfg := types.DefaultPexConfiguration()
	cfg.DefaultICType = ic
	return &cfg
}

func manualConfig(stations int, devs ...types.DeviceConfig) *types.PexConfiguration {
	cfg := types.DefaultPexConfiguration()
	cfg.AutoConfigure = false
	cfg.Devices = LayoutDevices(devs, stations)
	cfg.NumConfiguredStations = Capacity(cfg.Devices)
	return &cfg
}

func stationVector(bits ...int) []bool {
	v := make([]bool, len(bits))
	for i, b := range bits {
		v[i] = b != 0
	}
	return v
}

func storedDocument(t *testing.T, s *storage.MemoryStore) map[string]interface{} {
	t.Helper()
	data, err := s.Load(context.Background())
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestLoad_AutoConfiguresTwentyStations(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21, 0x22)

	var reports []types.StatusReport
	f.m.OnStatus(func(r types.StatusReport) { reports = append(reports, r) })

	require.NoError(t, f.m.Load(context.Background(), types.HostState{StationCount: 20}))

	cfg := f.m.Config()
	assert.Equal(t, types.StatusRunning, cfg.Status)
	assert.Equal(t, 20, cfg.NumConfiguredStations)
	assert.Equal(t, 20, cfg.NumHostStations)
	assert.Equal(t, []int{0x20, 0x21, 0x22}, cfg.DiscoveredDevices)
	require.Len(t, cfg.Devices, 3)
	assert.Equal(t, types.DeviceConfig{BusID: 1, Address: 0x22, ICType: types.ICTypePCF8574,
		PortWidth: 8, First: 16, Last: 20, Unused: 4}, cfg.Devices[2])

	assert.Equal(t, []bool{true}, f.host.calls)
	assert.Len(t, f.m.Handles(), 3)

	// every device preset to off during bring-up
	for _, a := range []uint8{0x20, 0x21, 0x22} {
		assert.Equal(t, []bus.Write{{Addr: a, Reg: bus.NoRegister, Value: 0x00}}, f.sim.WritesTo(a))
	}

	doc := storedDocument(t, f.store)
	assert.Equal(t, "run", doc["pex_status"])
	assert.EqualValues(t, 20, doc["num_PEX_stations"])
	assert.EqualValues(t, 20, doc["num_SIP_stations"])

	require.Len(t, reports, 1)
	assert.Equal(t, types.StatusRunning, reports[0].Status)
	assert.True(t, reports[0].NativeOutputDisabled)
}

func TestOnStationChange_SingleDevicePolarity(t *testing.T) {
	vector := stationVector(1, 0, 1, 1, 0, 0, 0, 0)

	tests := []struct {
		name      string
		activeLow bool
		want      uint16
	}{
		{"active high", false, 0x0D},
		{"active low", true, 0xF2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20)
			host := types.HostState{StationCount: 8, ActiveLow: tt.activeLow}
			require.NoError(t, f.m.Load(context.Background(), host))
			f.sim.ResetWrites()

			host.Stations = vector
			require.NoError(t, f.m.OnStationChange(host))

			assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: bus.NoRegister, Value: tt.want}}, f.sim.Writes())
		})
	}
}

func TestOnStationChange_EveryBitLandsOnItsDevice(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21, 0x22)
	host := types.HostState{StationCount: 20}
	require.NoError(t, f.m.Load(context.Background(), host))
	devs := f.m.Config().Devices

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		vector := make([]bool, 20)
		for i := range vector {
			vector[i] = rng.Intn(2) == 1
		}

		f.sim.ResetWrites()
		host.Stations = vector
		require.NoError(t, f.m.OnStationChange(host))

		for i, d := range devs {
			writes := f.sim.WritesTo(d.Address)
			require.Len(t, writes, 1, "device %d", i)
			got := writes[0].Value
			for j := 0; j < d.Last-d.First; j++ {
				assert.Equal(t, vector[d.First+j], got&(1<<j) != 0, "device %d bit %d", i, j)
			}
			assert.Zero(t, got>>uint(d.Last-d.First), "unused bits stay off on device %d", i)
		}
	}
}

func TestLoad_HandshakeFailureLeavesOutputsUntouched(t *testing.T) {
	stored := manualConfig(32,
		types.DeviceConfig{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8575},
		types.DeviceConfig{BusID: 1, Address: 0x21, ICType: types.ICTypePCF8575},
	)
	f := newFixture(t, stored, 0x20)
	host := types.HostState{StationCount: 32}

	err := f.m.Load(context.Background(), host)
	assert.ErrorIs(t, err, ErrHandshakeFailure)

	cfg := f.m.Config()
	assert.Equal(t, types.StatusUnconfigured, cfg.Status)
	assert.Contains(t, cfg.WarnMsg, "0x21")
	assert.Len(t, cfg.Devices, 2, "rejected devices are kept for the settings page")

	host.Stations = make([]bool, 32)
	host.Stations[0] = true
	assert.ErrorIs(t, f.m.OnStationChange(host), ErrNotConfigured)

	assert.Empty(t, f.sim.Writes())
	assert.Empty(t, f.host.calls)
	assert.Equal(t, "unconfigured", storedDocument(t, f.store)["pex_status"])
}

func TestOnStationChange_ShortVectorSkipsDevice(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21, 0x22)
	host := types.HostState{StationCount: 20}
	require.NoError(t, f.m.Load(context.Background(), host))
	f.sim.ResetWrites()

	host.Stations = make([]bool, 16)
	host.Stations[0] = true
	host.Stations[9] = true

	err := f.m.OnStationChange(host)
	assert.ErrorIs(t, err, ErrStationDrift)

	assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: bus.NoRegister, Value: 0x01}}, f.sim.WritesTo(0x20))
	assert.Equal(t, []bus.Write{{Addr: 0x21, Reg: bus.NoRegister, Value: 0x02}}, f.sim.WritesTo(0x21))
	assert.Empty(t, f.sim.WritesTo(0x22))

	status := f.m.Status()
	assert.Equal(t, types.StatusRunning, status.Status)
	assert.NotEmpty(t, status.WarnMsg)
}

func TestOnStationChange_TransportErrorDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21, 0x22)
	host := types.HostState{StationCount: 20}
	require.NoError(t, f.m.Load(context.Background(), host))
	saves := f.store.Saves()
	f.sim.ResetWrites()
	f.sim.FailWrites(0x21, errors.New("bus stuck"))

	host.Stations = make([]bool, 20)
	for i := range host.Stations {
		host.Stations[i] = true
	}
	err := f.m.OnStationChange(host)
	assert.ErrorIs(t, err, ErrTransport)

	assert.Len(t, f.sim.WritesTo(0x20), 1)
	assert.Empty(t, f.sim.WritesTo(0x21))
	assert.Equal(t, []bus.Write{{Addr: 0x22, Reg: bus.NoRegister, Value: 0x0F}}, f.sim.WritesTo(0x22))

	assert.Equal(t, types.StatusRunning, f.m.Status().Status)
	assert.Equal(t, saves, f.store.Saves(), "write failures do not touch the stored configuration")
}

func TestOnStationChange_LongVectorWarnsAboutCapacity(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20)
	host := types.HostState{StationCount: 8}
	require.NoError(t, f.m.Load(context.Background(), host))
	f.sim.ResetWrites()

	host.Stations = make([]bool, 10)
	host.Stations[9] = true

	err := f.m.OnStationChange(host)
	assert.ErrorIs(t, err, ErrCapacityMismatch)
	assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: bus.NoRegister, Value: 0x00}}, f.sim.Writes())
}

func TestLoad_DiscoveryShortfall(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21)

	err := f.m.Load(context.Background(), types.HostState{StationCount: 20})
	assert.ErrorIs(t, err, ErrDiscoveryShortfall)

	cfg := f.m.Config()
	assert.Equal(t, types.StatusUnconfigured, cfg.Status)
	assert.Empty(t, cfg.Devices)
	assert.Zero(t, cfg.NumConfiguredStations)
	assert.Equal(t, []int{0x20, 0x21}, cfg.DiscoveredDevices)
	assert.Contains(t, cfg.WarnMsg, "3 pcf8574 device(s) needed")
	assert.Empty(t, f.sim.Writes())
}

func TestReconcile_AutoConfigIsStable(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypeMCP23017), 0x20, 0x27)
	host := types.HostState{StationCount: 24}
	ctx := context.Background()

	require.NoError(t, f.m.Load(ctx, host))
	first := f.m.Config().Devices
	require.NoError(t, f.m.Reconcile(ctx, host))

	assert.Equal(t, first, f.m.Config().Devices)
	assert.Equal(t, []bool{true}, f.host.calls, "native output is disabled once per activation")
}

func TestOnHostOptionsChange(t *testing.T) {
	stored := manualConfig(8, types.DeviceConfig{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574})
	f := newFixture(t, stored, 0x20)
	ctx := context.Background()

	require.NoError(t, f.m.Load(ctx, types.HostState{StationCount: 8}))
	saves := f.store.Saves()

	// unchanged options are a no-op
	require.NoError(t, f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 8}))
	assert.Equal(t, saves, f.store.Saves())

	err := f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 12})
	assert.ErrorIs(t, err, ErrCapacityMismatch)
	assert.Equal(t, types.StatusUnconfigured, f.m.Status().Status)
	assert.Equal(t, 12, f.m.Status().NumHostStations)

	// polarity change re-runs bring-up with the new off level
	f.sim.ResetWrites()
	require.NoError(t, f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 8, ActiveLow: true}))
	assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: bus.NoRegister, Value: 0xFF}}, f.sim.Writes())
	assert.True(t, f.m.Config().ActiveLowLogic)
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"missing", nil},
		{"corrupt", []byte("{not json")},
		{"incomplete", []byte(`{"pex_status":"run","auto_configure":false}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zap.NewNop()
			sim := bus.NewSimulated(logger, 0x24)
			store := storage.NewMemoryStore(tt.data)
			m, err := NewManager(bus.NewRegistry(nil, sim, true, logger), store, nil, 1, logger)
			require.NoError(t, err)

			require.NoError(t, m.Load(context.Background(), types.HostState{StationCount: 16}))

			cfg := m.Config()
			assert.True(t, cfg.AutoConfigure)
			assert.Equal(t, types.ICTypePCF8575, cfg.DefaultICType)
			assert.Equal(t, types.StatusRunning, cfg.Status)
			require.Len(t, cfg.Devices, 1)
			assert.Equal(t, uint8(0x24), cfg.Devices[0].Address)
			assert.Equal(t, 1, store.Saves())
		})
	}
}

func TestLoad_UnknownKeysTolerated(t *testing.T) {
	stored := manualConfig(8, types.DeviceConfig{BusID: 1, Address: 0x26, ICType: types.ICTypeMCP2308})
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["legacy_option"] = "on"
	data, err = json.Marshal(doc)
	require.NoError(t, err)

	logger := zap.NewNop()
	sim := bus.NewSimulated(logger, 0x26)
	m, err := NewManager(bus.NewRegistry(nil, sim, true, logger), storage.NewMemoryStore(data), nil, 1, logger)
	require.NoError(t, err)

	require.NoError(t, m.Load(context.Background(), types.HostState{StationCount: 8}))
	cfg := m.Config()
	assert.False(t, cfg.AutoConfigure)
	assert.Equal(t, types.ICTypeMCP2308, cfg.Devices[0].ICType)
	assert.Equal(t, types.StatusRunning, cfg.Status)
}

func TestUpdate_ManualDevices(t *testing.T) {
	f := newFixture(t, nil, 0x20, 0x21)
	host := types.HostState{StationCount: 20}
	ctx := context.Background()
	require.NoError(t, f.m.Load(ctx, host))

	off := false
	err := f.m.Update(ctx, SettingsUpdate{
		AutoConfigure: &off,
		Devices: []ManualDevice{
			{BusID: 1, Address: 0x20, ICType: types.ICTypeMCP23017},
			{BusID: 1, Address: 0x21, ICType: types.ICTypeMCP2308},
		},
	}, host)
	require.NoError(t, err)

	cfg := f.m.Config()
	assert.Equal(t, types.StatusRunning, cfg.Status)
	assert.Equal(t, []types.DeviceConfig{
		{BusID: 1, Address: 0x20, ICType: types.ICTypeMCP23017, PortWidth: 16, First: 0, Last: 16},
		{BusID: 1, Address: 0x21, ICType: types.ICTypeMCP2308, PortWidth: 8, First: 16, Last: 20, Unused: 4},
	}, cfg.Devices)
	assert.Equal(t, false, storedDocument(t, f.store)["auto_configure"])
}

func TestUpdate_RejectedInputIsNotApplied(t *testing.T) {
	f := newFixture(t, nil, 0x20)
	ctx := context.Background()
	host := types.HostState{StationCount: 16}
	require.NoError(t, f.m.Load(ctx, host))
	saves := f.store.Saves()

	bad := types.ICType("pca9555")
	err := f.m.Update(ctx, SettingsUpdate{DefaultICType: &bad}, host)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	err = f.m.Update(ctx, SettingsUpdate{Devices: []ManualDevice{{BusID: 1, Address: 0x7A, ICType: types.ICTypePCF8574}}}, host)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	assert.Equal(t, saves, f.store.Saves())
	assert.Equal(t, types.ICTypePCF8575, f.m.Config().DefaultICType)
}

func TestUpdate_InvalidLayoutIsStillSaved(t *testing.T) {
	f := newFixture(t, nil, 0x20)
	ctx := context.Background()
	host := types.HostState{StationCount: 16}
	require.NoError(t, f.m.Load(ctx, host))

	off := false
	err := f.m.Update(ctx, SettingsUpdate{
		AutoConfigure: &off,
		Devices:       []ManualDevice{{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574}},
	}, host)
	assert.ErrorIs(t, err, ErrCapacityMismatch)

	doc := storedDocument(t, f.store)
	assert.Equal(t, "unconfigured", doc["pex_status"])
	assert.Len(t, doc["dev_configs"], 1)
}

func TestUpdate_Disable(t *testing.T) {
	f := newFixture(t, nil, 0x20)
	ctx := context.Background()
	host := types.HostState{StationCount: 16}
	require.NoError(t, f.m.Load(ctx, host))
	f.sim.ResetWrites()

	on := true
	err := f.m.Update(ctx, SettingsUpdate{Disabled: &on}, host)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, types.StatusDisabled, f.m.Status().Status)

	host.Stations = make([]bool, 16)
	assert.ErrorIs(t, f.m.OnStationChange(host), ErrNotConfigured)
	assert.Empty(t, f.sim.Writes())
}

func TestLoad_NoTransportIsDisabled(t *testing.T) {
	logger := zap.NewNop()
	m, err := NewManager(bus.NewRegistry(nil, nil, false, logger), storage.NewMemoryStore(nil), nil, 1, logger)
	require.NoError(t, err)

	err = m.Load(context.Background(), types.HostState{StationCount: 8})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, types.StatusDisabled, m.Status().Status)
}

func TestScanAndTestWrite(t *testing.T) {
	logger := zap.NewNop()
	sim := bus.NewSimulated(logger, 0x10, 0x21, 0x50)
	m, err := NewManager(simProvider{sim}, storage.NewMemoryStore(nil), nil, 1, logger)
	require.NoError(t, err)

	found, err := m.Scan(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0x21}, found)
	assert.Equal(t, []int{0x21}, m.Config().DiscoveredDevices)

	found, err = m.Scan(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0x10, 0x21, 0x50}, found)

	require.NoError(t, m.TestWrite(1, 0x21, 0xAA))
	assert.Equal(t, []bus.Write{{Addr: 0x21, Reg: bus.NoRegister, Value: 0xAA}}, sim.Writes())

	assert.ErrorIs(t, m.TestWrite(1, 0x22, 0x01), ErrTransport)
}

func TestTestWrite_DemoOnlyLogs(t *testing.T) {
	f := newFixture(t, nil, 0x20)
	require.NoError(t, f.m.TestWrite(1, 0x20, 0x55))
	assert.Empty(t, f.sim.Writes())
}

func TestShutdown_SwitchesEverythingOff(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypeMCP23017), 0x20)
	host := types.HostState{StationCount: 16, ActiveLow: true}
	require.NoError(t, f.m.Load(context.Background(), host))

	host.Stations = make([]bool, 16)
	host.Stations[3] = true
	require.NoError(t, f.m.OnStationChange(host))
	f.sim.ResetWrites()

	require.NoError(t, f.m.Shutdown())
	assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: 0x12, Value: 0xFFFF, Word: true}}, f.sim.Writes())
	assert.Empty(t, f.m.Handles())
}

func TestOnHostOptionsChange_ManualDevicesFollowStationCount(t *testing.T) {
	stored := manualConfig(10,
		types.DeviceConfig{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574},
		types.DeviceConfig{BusID: 1, Address: 0x21, ICType: types.ICTypePCF8574},
	)
	f := newFixture(t, stored, 0x20, 0x21)
	ctx := context.Background()

	require.NoError(t, f.m.Load(ctx, types.HostState{StationCount: 10}))
	require.Equal(t, types.StatusRunning, f.m.Status().Status)

	t.Run("grow within the hardware", func(t *testing.T) {
		require.NoError(t, f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 12}))

		cfg := f.m.Config()
		assert.Equal(t, types.StatusRunning, cfg.Status)
		assert.Equal(t, 12, cfg.NumConfiguredStations)
		assert.Equal(t, []types.DeviceConfig{
			{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574, PortWidth: 8, First: 0, Last: 8},
			{BusID: 1, Address: 0x21, ICType: types.ICTypePCF8574, PortWidth: 8, First: 8, Last: 12, Unused: 4},
		}, cfg.Devices)
		assert.EqualValues(t, 12, storedDocument(t, f.store)["num_PEX_stations"])

		f.sim.ResetWrites()
		host := types.HostState{StationCount: 12, Stations: make([]bool, 12)}
		host.Stations[11] = true
		require.NoError(t, f.m.OnStationChange(host))
		assert.Equal(t, []bus.Write{{Addr: 0x21, Reg: bus.NoRegister, Value: 0x08}}, f.sim.WritesTo(0x21))
	})

	t.Run("shrink", func(t *testing.T) {
		require.NoError(t, f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 6}))

		cfg := f.m.Config()
		assert.Equal(t, types.StatusRunning, cfg.Status)
		assert.Equal(t, 6, cfg.NumConfiguredStations)
		require.Len(t, cfg.Devices, 2, "devices are kept even when they get no stations")
		assert.Equal(t, 6, cfg.Devices[0].Last)
		assert.Equal(t, 2, cfg.Devices[0].Unused)
		assert.Equal(t, 6, cfg.Devices[1].First)
		assert.Equal(t, 6, cfg.Devices[1].Last)

		f.sim.ResetWrites()
		require.NoError(t, f.m.OnStationChange(types.HostState{StationCount: 6, Stations: stationVector(0, 0, 0, 0, 0, 1)}))
		assert.Equal(t, []bus.Write{{Addr: 0x20, Reg: bus.NoRegister, Value: 0x20}}, f.sim.WritesTo(0x20))
		assert.Equal(t, []bus.Write{{Addr: 0x21, Reg: bus.NoRegister, Value: 0x00}}, f.sim.WritesTo(0x21))
	})

	t.Run("grow past the hardware", func(t *testing.T) {
		err := f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 17})
		assert.ErrorIs(t, err, ErrCapacityMismatch)

		cfg := f.m.Config()
		assert.Equal(t, types.StatusUnconfigured, cfg.Status)
		require.Len(t, cfg.Devices, 2)
		assert.Equal(t, uint8(0x20), cfg.Devices[0].Address)
		assert.Equal(t, uint8(0x21), cfg.Devices[1].Address)
		assert.Equal(t, 16, cfg.NumConfiguredStations)
	})
}

func TestReconcile_BrokenStoredLayoutIsNotRepaired(t *testing.T) {
	stored := manualConfig(16,
		types.DeviceConfig{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574},
		types.DeviceConfig{BusID: 1, Address: 0x21, ICType: types.ICTypePCF8574},
	)
	stored.Devices[1].First, stored.Devices[1].Last = 9, 17
	f := newFixture(t, stored, 0x20, 0x21)

	err := f.m.Load(context.Background(), types.HostState{StationCount: 16})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, types.StatusUnconfigured, f.m.Status().Status)
	assert.Equal(t, 9, f.m.Config().Devices[1].First)
}

func TestOnStationChange_CleanCycleClearsWarning(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20, 0x21)
	host := types.HostState{StationCount: 16}
	require.NoError(t, f.m.Load(context.Background(), host))

	host.Stations = make([]bool, 10)
	assert.ErrorIs(t, f.m.OnStationChange(host), ErrStationDrift)
	assert.Contains(t, f.m.Status().WarnMsg, "device 1")

	host.Stations = make([]bool, 16)
	require.NoError(t, f.m.OnStationChange(host))
	assert.Empty(t, f.m.Status().WarnMsg)
	assert.Empty(t, f.m.Config().WarnMsg)
}

func TestOnStationChange_WarningDoesNotHideReconcileWarning(t *testing.T) {
	f := newFixture(t, autoConfig(types.ICTypePCF8574), 0x20)
	require.Error(t, f.m.Load(context.Background(), types.HostState{StationCount: 16}))
	reconcileWarn := f.m.Status().WarnMsg
	require.NotEmpty(t, reconcileWarn)

	assert.ErrorIs(t, f.m.OnStationChange(types.HostState{StationCount: 16, Stations: make([]bool, 16)}), ErrNotConfigured)
	assert.Equal(t, reconcileWarn, f.m.Status().WarnMsg)
}

func TestScan_PersistsDiscoveredDevices(t *testing.T) {
	f := newFixture(t, nil, 0x20, 0x23)
	ctx := context.Background()
	require.NoError(t, f.m.Load(ctx, types.HostState{StationCount: 16}))
	saves := f.store.Saves()

	f.sim.Attach(0x26)
	_, err := f.m.Scan(ctx, 1, false)
	require.NoError(t, err)

	assert.Equal(t, saves+1, f.store.Saves())
	assert.Equal(t, []interface{}{float64(0x20), float64(0x23), float64(0x26)},
		storedDocument(t, f.store)["discovered_devices"])

	// the diagnostic range is not remembered
	_, err = f.m.Scan(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, saves+1, f.store.Saves())
}

func TestNotify_LastDeliveredReportIsCurrent(t *testing.T) {
	f := newFixture(t, manualConfig(8,
		types.DeviceConfig{BusID: 1, Address: 0x20, ICType: types.ICTypePCF8574},
		types.DeviceConfig{BusID: 1, Address: 0x21, ICType: types.ICTypePCF8574},
	), 0x20, 0x21)
	ctx := context.Background()
	require.NoError(t, f.m.Load(ctx, types.HostState{StationCount: 8}))

	var mu sync.Mutex
	var last types.StatusReport
	f.m.OnStatus(func(r types.StatusReport) {
		mu.Lock()
		last = r
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// 4 and 12 run, 20 does not fit two PCF8574
			f.m.OnHostOptionsChange(ctx, types.HostState{StationCount: 4 + (n%3)*8})
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, f.m.Status(), last)
}
