package models

import "time"

// Status is the broker's single authoritative connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

var ValidStatuses = map[Status]bool{
	StatusDisconnected: true,
	StatusConnecting:   true,
	StatusConnected:    true,
	StatusError:        true,
}

func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// DeviceIdentity is the stable pairing target for mobiles. It is created once
// and persisted across restarts.
type DeviceIdentity struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PairingPIN is a single-use pairing code.
type PairingPIN struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Consumed  bool      `json:"consumed"`
}

// ExpiredAt reports whether the PIN is past its expiry at now.
func (p PairingPIN) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// MobileConnection is a paired mobile client.
type MobileConnection struct {
	MobileID     string    `json:"mobileId"`
	MobileName   string    `json:"mobileName,omitempty"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Session is a workspace session opened by a connected mobile.
type Session struct {
	ID            string    `json:"id"`
	MobileID      string    `json:"mobileId"`
	WorkspaceID   string    `json:"workspaceId"`
	WorkspaceName string    `json:"workspaceName"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StateError describes why the broker is in the error status.
type StateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteState is an immutable snapshot of the broker. It is recomputed on
// every change and never mutated after it has been handed out.
type RemoteState struct {
	Version      uint64             `json:"version"`
	Status       Status             `json:"status"`
	DeviceID     string             `json:"deviceId"`
	DeviceName   string             `json:"deviceName"`
	Mobiles      []MobileConnection `json:"mobiles"`
	MobileCount  int                `json:"mobileCount"`
	Sessions     []Session          `json:"sessions"`
	PinExpiresAt *time.Time         `json:"pinExpiresAt,omitempty"`
	Error        *StateError        `json:"error,omitempty"`
}

// Clone returns a deep copy so callers can never share backing arrays.
func (s RemoteState) Clone() RemoteState {
	out := s
	out.Mobiles = append([]MobileConnection(nil), s.Mobiles...)
	out.Sessions = append([]Session(nil), s.Sessions...)
	if out.Mobiles == nil {
		out.Mobiles = []MobileConnection{}
	}
	if out.Sessions == nil {
		out.Sessions = []Session{}
	}
	if s.PinExpiresAt != nil {
		t := *s.PinExpiresAt
		out.PinExpiresAt = &t
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}

// SessionsFor returns the sessions owned by mobileID.
func (s RemoteState) SessionsFor(mobileID string) []Session {
	var out []Session
	for _, sess := range s.Sessions {
		if sess.MobileID == mobileID {
			out = append(out, sess)
		}
	}
	return out
}

// RemovalReason records why a mobile left the registry.
type RemovalReason string

const (
	ReasonDisconnect      RemovalReason = "disconnect"
	ReasonLivenessTimeout RemovalReason = "liveness_timeout"
	ReasonTransportClosed RemovalReason = "transport_closed"
	ReasonTransportFault  RemovalReason = "transport_fault"
	ReasonClientRequest   RemovalReason = "client_request"
)

// PairingEventType classifies a pairing history entry.
type PairingEventType string

const (
	EventPaired  PairingEventType = "paired"
	EventRemoved PairingEventType = "removed"
)

// PairingEvent is one persisted row of pairing history.
type PairingEvent struct {
	ID         int64            `json:"id"`
	MobileID   string           `json:"mobileId"`
	MobileName string           `json:"mobileName,omitempty"`
	Event      PairingEventType `json:"event"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  int64            `json:"createdAt"`
}

// PinResponse is returned from POST /pin.
type PinResponse struct {
	Pin       string    `json:"pin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CommandResponse is returned from POST /connect and POST /disconnect.
type CommandResponse struct {
	OK     bool   `json:"ok"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// HistoryResponse is returned from GET /history.
type HistoryResponse struct {
	Events []PairingEvent `json:"events"`
}

// ServiceCheck is a health sub-check result.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CloseFellBehind is the WebSocket close code sent to a state stream
// subscriber that could not keep up. The client should reconnect to resume
// from the current snapshot.
const CloseFellBehind = 4001

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	DB          ServiceCheck `json:"db"`
	Broker      Status       `json:"broker"`
	MobileCount int          `json:"mobileCount"`
	EventCount  int          `json:"eventCount"`
}
