package interfaces

import (
	"context"

	"github.com/KevinKickass/PortExtender/internal/config"
	"github.com/KevinKickass/PortExtender/internal/devices"
	"github.com/KevinKickass/PortExtender/internal/host"
	"github.com/KevinKickass/PortExtender/internal/types"
)

// SystemStatus represents the current service state
type SystemStatus struct {
	State            string             `json:"state"`
	Demo             bool               `json:"demo"`
	StorageBackend   string             `json:"storage_backend"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
	ConnectedClients int                `json:"connected_clients"`
	Pex              types.StatusReport `json:"pex"`
	Error            string             `json:"error,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	Engine() *devices.Manager
	Host() *host.Adapter
	Demo() bool
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
