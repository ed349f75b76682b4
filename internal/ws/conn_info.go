package ws

import "time"

// ConnInfo is the handshake metadata attached to connection events.
type ConnInfo struct {
	ConnID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
