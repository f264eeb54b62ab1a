package connection

import "time"

// Status is the connection state machine position.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// State is the externally readable connection state. External code
// reads it through Manager.State and never mutates it.
type State struct {
	Status       Status
	AttemptCount int

	// LastLatency is the most recent heartbeat round-trip sample.
	LastLatency time.Duration
}

// Wire messages. The channel carries JSON text frames routed by their
// "event" field; unrecognized events pass through to collaborators
// untouched.

// initMessage is sent as the first frame after dialing.
type initMessage struct {
	Event    string `json:"event"`
	Device   string `json:"device"`
	Protocol int    `json:"protocol"`
}

// initAck is the server reply to init.
type initAck struct {
	Event string `json:"event"`
	Res   string `json:"res"`
}

// pingMessage carries the client send time; the server echoes it back
// in the pong so the round-trip latency needs no correlation state.
type pingMessage struct {
	Event string `json:"event"`
	Sent  int64  `json:"sent"`
}

// protocolVersion is sent in the init handshake.
const protocolVersion = 1
