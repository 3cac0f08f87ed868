// Package server coordinates the connection registry, broadcast fan-out, and
// the per-tick polling loop at the heart of the chat server.
package server

import (
	"fmt"
	"log"
	"time"

	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/transport"
)

const shutdownNotice = "Server is shutting down.  Goodbye."

// clientInfo is the per-client registry record. It carries the connection
// description for logs; a nickname would live here too once the server
// learns one.
type clientInfo struct {
	description string
}

// Server runs the chat service. All state is owned by the single goroutine
// that calls Run: the transport delivers events synchronously from within
// the loop's own RunCallbacks call, and console input arrives through the
// reader's queue.
type Server struct {
	cfg *Config
	net Network
	in  *input.Reader

	listenSock transport.ListenSocket
	pollGroup  transport.PollGroup
	clients    map[transport.Conn]*clientInfo

	quit          bool
	inputReported bool
}

// New creates a chat server over the given transport and console input
// reader. Passing a nil config uses defaults.
func New(cfg *Config, net Network, in *input.Reader) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	return &Server{
		cfg:     &sanitized,
		net:     net,
		in:      in,
		clients: make(map[transport.Conn]*clientInfo),
	}
}

// Run opens the listen socket and poll group, then polls until the operator
// quits or console input fails. The returned error is nil for an orderly
// shutdown; any non-nil error is fatal and the process should exit.
func (s *Server) Run() error {
	ls, err := s.net.CreateListenSocket(s.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	s.listenSock = ls
	s.pollGroup = s.net.CreatePollGroup()

	log.Printf("Server listening on port %d", s.cfg.Port)

	for !s.shuttingDown() {
		if err := s.pollIncomingMessages(); err != nil {
			return err
		}
		s.pollConnectionStateChanges()
		s.pollLocalUserInput()
		time.Sleep(s.cfg.TickInterval)
	}

	s.shutdown()
	return nil
}

// shuttingDown folds the quit command and input-stream failure into one
// loop condition.
func (s *Server) shuttingDown() bool {
	if s.quit {
		return true
	}
	if s.in != nil && s.in.Failed() {
		if !s.inputReported {
			s.inputReported = true
			log.Printf("Failed to read on stdin, quitting")
		}
		return true
	}
	return false
}

// pollIncomingMessages drains the poll group and broadcasts each message to
// every registered client except its sender. A transport receive error is
// fatal.
func (s *Server) pollIncomingMessages() error {
	for !s.quit {
		msgs, err := s.net.ReceiveMessages(s.pollGroup, s.cfg.ReceiveBatch)
		if err != nil {
			return fmt.Errorf("error checking for messages: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			s.broadcast(msg.Payload, msg.Conn)
		}
	}
	return nil
}

// broadcast fans a payload out to every registered client except the one
// named. Sends are unreliable and best-effort: per-recipient errors are
// deliberately not checked, matching the delivery guarantees we offer.
func (s *Server) broadcast(payload []byte, except transport.Conn) {
	for conn := range s.clients {
		if conn == except {
			continue
		}
		_ = s.net.SendMessage(conn, payload, transport.SendUnreliableNoDelay)
	}
}

// pollConnectionStateChanges drains pending state transitions. The transport
// invokes the handler synchronously on this goroutine, so the registry needs
// no locking.
func (s *Server) pollConnectionStateChanges() {
	s.net.RunCallbacks(s.onConnectionStatusChanged)
}

func (s *Server) onConnectionStatusChanged(ev transport.StateChange) {
	switch ev.State {
	case transport.StateNone:
		// Emitted when we destroy connections. Nothing to do.

	case transport.StateConnecting:
		s.handleConnecting(ev)

	case transport.StateConnected:
		// We accepted in the Connecting step; this is not news to us.

	case transport.StateClosedByPeer, transport.StateProblemDetectedLocally:
		s.handleClosed(ev)
	}
}

// handleConnecting registers a new inbound connection, accepts it, and
// assigns it to the poll group. On either failure the connection is closed
// immediately and its registry record is removed on the spot, since a
// connection that never reached Connected gets no further close event.
func (s *Server) handleConnecting(ev transport.StateChange) {
	log.Printf("Connection request from %s", ev.Description)

	s.clients[ev.Conn] = &clientInfo{description: ev.Description}

	if err := s.net.AcceptConnection(ev.Conn); err != nil {
		s.net.CloseConnection(ev.Conn, "", false)
		delete(s.clients, ev.Conn)
		log.Printf("Can't accept connection.  (It was already closed?)")
		return
	}

	if !s.net.SetConnectionPollGroup(ev.Conn, s.pollGroup) {
		s.net.CloseConnection(ev.Conn, "", false)
		delete(s.clients, ev.Conn)
		log.Printf("Failed to set poll group?")
		return
	}
}

// handleClosed removes a departed client from the registry and closes the
// local handle. A peer that disconnected before we finished accepting was
// never a registered client, so there is nothing to remove.
func (s *Server) handleClosed(ev transport.StateChange) {
	if ev.OldState == transport.StateConnected {
		action := "closed by peer"
		if ev.State == transport.StateProblemDetectedLocally {
			action = "problem detected locally"
		}
		log.Printf("Connection %s %s: %s", ev.Description, action, ev.EndReason)

		delete(s.clients, ev.Conn)
	}

	// The connection is closed in the network sense, but the handle has
	// not been released. Close our end too, immediately and with no
	// reason, since the other side is already gone.
	s.net.CloseConnection(ev.Conn, "", false)
}

// pollLocalUserInput handles pending console commands. The only command is
// /quit; anything else earns a diagnostic.
func (s *Server) pollLocalUserInput() {
	if s.in == nil {
		return
	}
	for !s.quit {
		cmd, ok := s.in.TryNext()
		if !ok {
			return
		}

		if cmd == "/quit" {
			s.quit = true
			log.Printf("Shutting down server")
			return
		}

		log.Printf("The server only knows one command: '/quit'")
	}
}

// shutdown notifies every client, flushes and closes their connections, and
// releases the listen socket and poll group.
func (s *Server) shutdown() {
	log.Printf("Closing connections...")
	for conn := range s.clients {
		// One more goodbye message, then a linger close so the
		// transport flushes it out before teardown.
		_ = s.net.SendMessage(conn, []byte(shutdownNotice), transport.SendUnreliableNoDelay)
		s.net.CloseConnection(conn, "Server shutdown", true)
	}
	s.clients = make(map[transport.Conn]*clientInfo)

	s.net.CloseListenSocket(s.listenSock)
	s.listenSock = transport.InvalidListenSocket

	s.net.DestroyPollGroup(s.pollGroup)
	s.pollGroup = transport.InvalidPollGroup
}
