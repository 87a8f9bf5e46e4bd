package types

// HostState is a read-only snapshot of the host controller's globals, passed
// into every engine call. Stations may be nil for option-change events.
type HostState struct {
	StationCount int    `json:"station_count"`
	Stations     []bool `json:"stations,omitempty"`
	ActiveLow    bool   `json:"active_low"`
}

// StatusReport is what the UI layers render: REST, websocket and gRPC.
type StatusReport struct {
	Status                Status `json:"status"`
	WarnMsg               string `json:"warnmsg,omitempty"`
	AutoConfigure         bool   `json:"auto_configure"`
	DeviceCount           int    `json:"device_count"`
	NumConfiguredStations int    `json:"num_configured_stations"`
	NumHostStations       int    `json:"num_host_stations"`
	NativeOutputDisabled  bool   `json:"native_output_disabled"`
}
