package ipc

import "encoding/json"

// Message type constants for control socket requests and replies.
const (
	TypeStatus      = "status"
	TypeStatusReply = "status_reply"
	TypeWake        = "wake"
	TypeDim         = "dim"
	TypeAck         = "ack"
	TypeError       = "error"
)

// MaxMessageSize is the maximum size of a JSON control message (64KB).
// Control traffic is tiny; anything bigger is a broken or hostile peer.
const MaxMessageSize = 64 * 1024

// ProtocolVersion is the current control protocol version. Requests carry
// it; the server rejects anything it does not speak.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all control messages.
type Envelope struct {
	ID      string          `json:"id"`
	Version int             `json:"version,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusReply describes the daemon's current view of the machine.
type StatusReply struct {
	BacklightOff    bool          `json:"backlightOff"`
	Fading          bool          `json:"fading"`
	Brightness      int           `json:"brightness"`
	SavedBrightness int           `json:"savedBrightness"`
	WatchedSession  string        `json:"watchedSession,omitempty"`
	Sessions        []SessionInfo `json:"sessions,omitempty"`
	Health          []HealthEntry `json:"health,omitempty"`
	Version         string        `json:"version"`
	UptimeSeconds   int64         `json:"uptimeSeconds"`
}

// SessionInfo is one registered login session.
type SessionInfo struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Seat    string `json:"seat,omitempty"`
	Display string `json:"display,omitempty"`
}

// HealthEntry is one component's health state.
type HealthEntry struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}
