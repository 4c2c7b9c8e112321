package endpoint

import "github.com/iammorganparry/clive/apps/remote/internal/models"

// FrameType identifies a mobile protocol frame.
type FrameType string

const (
	// Mobile -> broker
	FramePair         FrameType = "pair"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameSessionOpen  FrameType = "session.open"
	FrameSessionClose FrameType = "session.close"

	// Broker -> mobile
	FramePaired        FrameType = "paired"
	FrameHeartbeatAck  FrameType = "heartbeat.ack"
	FrameSessionOpened FrameType = "session.opened"
	FrameSessionClosed FrameType = "session.closed"
	FrameError         FrameType = "error"
)

// Protocol-level error codes. Broker errors use models.ErrorCode.
const (
	CodeInvalidMessage = "invalid_message"
	CodeNotPaired      = "not_paired"
	CodeAlreadyPaired  = "already_paired"
)

// Frame is the JSON envelope exchanged over the mobile socket. Only the
// fields relevant to Type are set.
type Frame struct {
	Type FrameType `json:"type"`

	// pair
	Pin  string `json:"pin,omitempty"`
	Name string `json:"name,omitempty"`

	// paired
	MobileID   string `json:"mobileId,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`

	// session.open / session.close / session.opened / session.closed
	WorkspaceID   string          `json:"workspaceId,omitempty"`
	WorkspaceName string          `json:"workspaceName,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Session       *models.Session `json:"session,omitempty"`
	Closed        bool            `json:"closed,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorFrame(code, message string) Frame {
	return Frame{Type: FrameError, Code: code, Message: message}
}
