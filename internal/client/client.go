// Package client implements the interactive chat client: connect to a
// server, print everything it broadcasts, and send each typed line as a chat
// message. The client uses the same polling-loop shape as the server, with a
// single connection in place of a poll group.
package client

import (
	"fmt"
	"log"
	"time"

	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/transport"
)

// Network is the set of transport capabilities the client depends on.
type Network interface {
	Connect(addr string) (transport.Conn, error)
	CloseConnection(conn transport.Conn, reason string, linger bool)
	SendMessage(conn transport.Conn, payload []byte, flags transport.SendFlags) error
	ReceiveMessagesOnConnection(conn transport.Conn, max int) ([]*transport.Message, error)
	RunCallbacks(fn func(transport.StateChange))
}

var _ Network = (*transport.Sockets)(nil)

// Config holds the chat client settings.
type Config struct {
	// ServerAddr is the host:port of the chat server.
	ServerAddr string

	// TickInterval is how long the loop sleeps between polling passes.
	TickInterval time.Duration
}

// NewConfig creates a Config pointed at a local server on the default port.
func NewConfig() *Config {
	return &Config{
		ServerAddr:   "localhost:27020",
		TickInterval: 10 * time.Millisecond,
	}
}

// Client is the interactive chat client.
type Client struct {
	cfg *Config
	net Network
	in  *input.Reader

	conn transport.Conn
	quit bool
}

// New creates a chat client over the given transport and console input
// reader. Passing a nil config uses defaults.
func New(cfg *Config, net Network, in *input.Reader) *Client {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}

	return &Client{cfg: cfg, net: net, in: in}
}

// Run connects to the server and polls until the operator quits, the server
// goes away, or console input fails.
func (c *Client) Run() error {
	conn, err := c.net.Connect(c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.ServerAddr, err)
	}
	c.conn = conn

	log.Printf("Connecting to chat server at %s", c.cfg.ServerAddr)

	for !c.shuttingDown() {
		if err := c.pollIncomingMessages(); err != nil {
			return err
		}
		c.pollConnectionStateChanges()
		c.pollLocalUserInput()
		time.Sleep(c.cfg.TickInterval)
	}

	if c.conn != transport.InvalidConn {
		c.net.CloseConnection(c.conn, "Goodbye", true)
		c.conn = transport.InvalidConn
	}
	return nil
}

func (c *Client) shuttingDown() bool {
	if c.quit {
		return true
	}
	if c.in != nil && c.in.Failed() {
		c.quit = true
		log.Printf("Failed to read on stdin, quitting")
		return true
	}
	return false
}

// pollIncomingMessages prints everything the server has broadcast to us.
func (c *Client) pollIncomingMessages() error {
	for !c.quit {
		msgs, err := c.net.ReceiveMessagesOnConnection(c.conn, 1)
		if err != nil {
			return fmt.Errorf("error checking for messages: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			fmt.Println(string(msg.Payload))
		}
	}
	return nil
}

func (c *Client) pollConnectionStateChanges() {
	c.net.RunCallbacks(c.onConnectionStatusChanged)
}

func (c *Client) onConnectionStatusChanged(ev transport.StateChange) {
	switch ev.State {
	case transport.StateNone:
		// Emitted when we destroy the connection. Nothing to do.

	case transport.StateConnecting, transport.StateConnected:
		// The dial already reported success; nothing further to do here.

	case transport.StateClosedByPeer, transport.StateProblemDetectedLocally:
		if ev.OldState == transport.StateConnecting {
			log.Printf("We sought the remote host, yet our efforts were met with defeat.  (%s)", ev.EndReason)
		} else if ev.State == transport.StateProblemDetectedLocally {
			log.Printf("Alas, trouble on the network.  (%s)", ev.EndReason)
		} else {
			log.Printf("The host hath bidden us farewell.  (%s)", ev.EndReason)
		}

		// Clean up our end of the handle; the reason does not matter
		// and we cannot linger on an already-dead connection.
		c.net.CloseConnection(ev.Conn, "", false)
		c.conn = transport.InvalidConn
		c.quit = true
	}
}

// pollLocalUserInput sends each typed line to the server. /quit leaves the
// chat; everything else is a message for the room.
func (c *Client) pollLocalUserInput() {
	if c.in == nil {
		return
	}
	for !c.quit {
		line, ok := c.in.TryNext()
		if !ok {
			return
		}

		if line == "/quit" {
			c.quit = true
			log.Printf("Disconnecting from chat server")
			return
		}

		// Chat messages ride the reliable stream so nothing typed is
		// silently lost.
		_ = c.net.SendMessage(c.conn, []byte(line), transport.SendReliable)
	}
}
