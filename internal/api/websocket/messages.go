package websocket

import (
	"time"

	"github.com/KevinKickass/PortExtender/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Engine status, pushed on every change and once after authentication
	MessageTypeStatus MessageType = "pex_status"

	// Result of a scan triggered through the settings API
	MessageTypeScanResult MessageType = "scan_result"

	// Client requests
	MessageTypeAuth      MessageType = "auth"
	MessageTypeGetStatus MessageType = "get_status"

	// Auth responses
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ScanResultData lists the addresses that answered, as hex strings for the UI.
type ScanResultData struct {
	BusID     int      `json:"bus_id"`
	Full      bool     `json:"full"`
	Addresses []string `json:"addresses"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewStatusMessage(report types.StatusReport) Message {
	return NewMessage(MessageTypeStatus, report)
}

func NewScanResultMessage(busID int, full bool, addresses []string) Message {
	return NewMessage(MessageTypeScanResult, ScanResultData{
		BusID:     busID,
		Full:      full,
		Addresses: addresses,
	})
}
