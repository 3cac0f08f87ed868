// Package transport defines the handle types, send flags, and event payloads
// shared by every consumer of the messaging layer.
package transport

import (
	"errors"
	"strings"
)

// Conn is an opaque handle for one peer connection. A handle is unique for
// the lifetime of the Sockets instance that issued it and has no meaning
// after the connection is closed.
type Conn uint32

// ListenSocket is an opaque handle for a listening endpoint.
type ListenSocket uint32

// PollGroup is an opaque handle for a group of connections whose incoming
// messages are drained together.
type PollGroup uint32

// Invalid handle values. Handles issued by a Sockets instance are never zero.
const (
	InvalidConn         Conn         = 0
	InvalidListenSocket ListenSocket = 0
	InvalidPollGroup    PollGroup    = 0
)

// SendFlags selects the delivery mode for an outgoing message.
type SendFlags int

const (
	// SendReliable delivers the message over the connection's ordered
	// stream, blocking briefly if the outbound queue is full.
	SendReliable SendFlags = iota

	// SendUnreliableNoDelay prioritizes latency over delivery: if the
	// outbound queue is full the message is dropped without error.
	SendUnreliableNoDelay
)

// ConnState describes where a connection is in its lifecycle.
type ConnState int

const (
	// StateNone is reported when a handle is destroyed locally. Consumers
	// can ignore these transitions.
	StateNone ConnState = iota

	// StateConnecting means the peer has reached us but the application
	// has not accepted the connection yet.
	StateConnecting

	// StateConnected means the connection is accepted and exchanging data.
	StateConnected

	// StateClosedByPeer means the remote side closed the connection
	// cleanly. The local handle still must be closed to free resources.
	StateClosedByPeer

	// StateProblemDetectedLocally means the connection failed on our side
	// (I/O error, timeout). The local handle still must be closed.
	StateProblemDetectedLocally
)

func (s ConnState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosedByPeer:
		return "closed by peer"
	case StateProblemDetectedLocally:
		return "problem detected locally"
	default:
		return "unknown"
	}
}

// StateChange is one connection state transition, queued in arrival order
// and delivered by Sockets.RunCallbacks.
type StateChange struct {
	Conn        Conn
	State       ConnState
	OldState    ConnState
	Description string // human-readable connection description for logs
	EndReason   string // why the connection ended, when known
}

// Message is one incoming message pulled from a poll group or connection.
type Message struct {
	Conn    Conn
	Payload []byte
}

// Errors reported by the Sockets API.
var (
	ErrInvalidConn       = errors.New("transport: invalid connection handle")
	ErrInvalidPollGroup  = errors.New("transport: invalid poll group handle")
	ErrConnNotConnecting = errors.New("transport: connection is not awaiting acceptance")
	ErrConnClosed        = errors.New("transport: connection is closed")
)

// isExpectedCloseError reports whether an error is part of normal connection
// teardown rather than a local failure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
