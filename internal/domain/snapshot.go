package domain

import (
	"fmt"
	"strings"
)

// ConnectionStatus is the transport lifecycle state visible to consumers.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *ConnectionStatus) UnmarshalText(b []byte) error {
	v, ok := ParseConnectionStatus(string(b))
	if !ok {
		return fmt.Errorf("connection status %q: %w", b, ErrInvalidValue)
	}
	*s = v
	return nil
}

// ParseConnectionStatus maps a status name to its value.
func ParseConnectionStatus(v string) (ConnectionStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DISCONNECTED":
		return StatusDisconnected, true
	case "CONNECTING":
		return StatusConnecting, true
	case "CONNECTED":
		return StatusConnected, true
	case "ERROR":
		return StatusError, true
	}
	return StatusDisconnected, false
}

// InstrumentRef names a known instrument.
type InstrumentRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// MarketSnapshot is the consolidated, immutable view delivered to subscribers.
type MarketSnapshot struct {
	Seq         uint64           `json:"seq"`
	Selected    string           `json:"selected"`
	State       *InstrumentState `json:"state,omitempty"` // nil when nothing is tracked yet
	Instruments []InstrumentRef  `json:"instruments"`
	Status      ConnectionStatus `json:"status"`
}
