package types

import "fmt"

// SimulatedBusID selects the in-memory bus instead of a physical adapter.
const SimulatedBusID = -1

type ICType string

const (
	ICTypePCF8574  ICType = "pcf8574"
	ICTypePCF8575  ICType = "pcf8575"
	ICTypeMCP2308  ICType = "mcp2308"
	ICTypeMCP23017 ICType = "mcp23017"
)

// SupportedICTypes lists the chip families in the order the settings UI offers them.
var SupportedICTypes = []ICType{ICTypePCF8574, ICTypePCF8575, ICTypeMCP2308, ICTypeMCP23017}

// PortWidth returns the number of output bits the family provides, 0 for unknown types.
func (t ICType) PortWidth() int {
	switch t {
	case ICTypePCF8574, ICTypeMCP2308:
		return 8
	case ICTypePCF8575, ICTypeMCP23017:
		return 16
	default:
		return 0
	}
}

func (t ICType) Valid() bool {
	return t.PortWidth() != 0
}

type Status string

const (
	StatusDisabled     Status = "disabled"
	StatusUnconfigured Status = "unconfigured"
	StatusConfigured   Status = "configured"
	StatusRunning      Status = "run"
)

// Active reports whether station changes may be written to hardware.
func (s Status) Active() bool {
	return s == StatusConfigured || s == StatusRunning
}

// DeviceConfig describes one physical expander and the station slice it drives.
type DeviceConfig struct {
	BusID     int    `json:"bus_id"`
	Address   uint8  `json:"hw_addr"`
	ICType    ICType `json:"ic_type"`
	PortWidth int    `json:"size"`
	First     int    `json:"first"`
	Last      int    `json:"last"`
	Unused    int    `json:"unused"`
}

// Stations returns the number of stations mapped to the device.
func (d DeviceConfig) Stations() int {
	return d.Last - d.First
}

func (d DeviceConfig) String() string {
	return fmt.Sprintf("%s@%d:0x%02X[%d:%d]", d.ICType, d.BusID, d.Address, d.First, d.Last)
}

// PexConfiguration is the persisted unit. Key names are kept stable so the
// file stays readable when diagnosing a field installation.
type PexConfiguration struct {
	Status                Status         `json:"pex_status"`
	WarnMsg               string         `json:"warnmsg"`
	AutoConfigure         bool           `json:"auto_configure"`
	DefaultICType         ICType         `json:"default_ic_type"`
	DefaultBusID          int            `json:"default_smbus"`
	Devices               []DeviceConfig `json:"dev_configs"`
	NumConfiguredStations int            `json:"num_PEX_stations"`
	NumHostStations       int            `json:"num_SIP_stations"`
	ActiveLowLogic        bool           `json:"alr"`
	DiscoveredDevices     []int          `json:"discovered_devices"`
	Debug                 bool           `json:"debug"`
	Disabled              bool           `json:"disabled"`
}

// Clone returns a deep copy safe to hand out of the engine.
func (c PexConfiguration) Clone() PexConfiguration {
	out := c
	out.Devices = append(make([]DeviceConfig, 0, len(c.Devices)), c.Devices...)
	out.DiscoveredDevices = append(make([]int, 0, len(c.DiscoveredDevices)), c.DiscoveredDevices...)
	return out
}

// DefaultPexConfiguration is used on first run and whenever the stored file cannot be trusted.
func DefaultPexConfiguration() PexConfiguration {
	return PexConfiguration{
		Status:            StatusUnconfigured,
		AutoConfigure:     true,
		DefaultICType:     ICTypePCF8575,
		DefaultBusID:      1,
		Devices:           []DeviceConfig{},
		DiscoveredDevices: []int{},
	}
}
