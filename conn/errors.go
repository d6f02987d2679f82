package conn

import "errors"

var (
	// ErrProtocolViolation marks an inbound packet that is well-formed MQTT
	// but not legal in the connection's current state (a second CONNECT, a
	// server-to-client packet type arriving from a client, and similar).
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotConnected marks an attempt to use a session before CONNECT has
	// completed.
	ErrNotConnected = errors.New("client not connected")
)
