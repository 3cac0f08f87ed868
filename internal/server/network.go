// Package server declares the slice of the transport layer the chat server
// consumes.
package server

import "github.com/Tyrowin/peerchat/internal/transport"

// Network is the set of transport capabilities the server depends on. The
// concrete implementation lives in the transport package; tests substitute a
// fake to exercise the loop without real sockets.
type Network interface {
	CreateListenSocket(port int) (transport.ListenSocket, error)
	CloseListenSocket(ls transport.ListenSocket)

	CreatePollGroup() transport.PollGroup
	DestroyPollGroup(pg transport.PollGroup)

	AcceptConnection(conn transport.Conn) error
	SetConnectionPollGroup(conn transport.Conn, pg transport.PollGroup) bool
	CloseConnection(conn transport.Conn, reason string, linger bool)

	SendMessage(conn transport.Conn, payload []byte, flags transport.SendFlags) error
	ReceiveMessages(pg transport.PollGroup, max int) ([]*transport.Message, error)

	RunCallbacks(fn func(transport.StateChange))
}

var _ Network = (*transport.Sockets)(nil)
