package devices

import "errors"

// Error kinds returned by the engine entry points. Callers match them with
// errors.Is; the wrapped message carries the human-readable detail.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrCapacityMismatch   = errors.New("capacity mismatch")
	ErrHandshakeFailure   = errors.New("handshake failure")
	ErrTransport          = errors.New("transport error")
	ErrDiscoveryShortfall = errors.New("discovery shortfall")
	ErrNotConfigured      = errors.New("port extender not configured")
	ErrDisabled           = errors.New("port extender disabled")
	ErrStationDrift       = errors.New("station vector drift")
)
