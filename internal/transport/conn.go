// Package transport manages individual connections: outbound queueing,
// read/write pumps, keepalive, and teardown.
package transport

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type conn struct {
	id      Conn
	ws      *websocket.Conn
	desc    string
	inbound bool

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	closeReason string

	limiter *rateLimiter

	// Guarded by Sockets.mu.
	state        ConnState
	pollGroup    PollGroup
	pending      []*Message
	pumpsStarted bool
}

// enqueue places a payload on the outbound queue according to the send
// flags. The payload is copied so callers may reuse their buffer. A closed
// send channel surfaces as ErrConnClosed via the recover below.
func (c *conn) enqueue(payload []byte, flags SendFlags) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrConnClosed
		}
	}()

	buf := make([]byte, len(payload))
	copy(buf, payload)

	if flags == SendUnreliableNoDelay {
		select {
		case c.send <- buf:
		default:
			// Queue full. Unreliable messages are dropped, not retried.
		}
		return nil
	}

	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// teardown closes the connection exactly once. With linger set and pumps
// running, the outbound queue drains before the close frame goes out;
// otherwise the socket is closed on the spot.
func (c *conn) teardown(reason string, linger bool) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
		if !c.pumpsStarted || !linger {
			_ = c.ws.Close()
		}
		close(c.send)
	})
}

// readPump moves incoming messages from the socket into the connection's
// poll group (or its own queue) until the connection dies. Runs as its own
// goroutine once the connection is accepted or dialed.
func (s *Sockets) readPump(c *conn) {
	defer func() {
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)); err != nil {
		log.Printf("Error setting read deadline for %s: %v", c.desc, err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			s.connectionLost(c, err)
			return
		}

		if !c.limiter.allow() {
			log.Printf("Rate limit exceeded on %s; discarding message", c.desc)
			continue
		}

		s.deliver(c, payload)
	}
}

// deliver queues one incoming message for the application to poll.
func (s *Sockets) deliver(c *conn, payload []byte) {
	msg := &Message{Conn: c.id, Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()

	if group, ok := s.pollGroups[c.pollGroup]; ok {
		group.queue = append(group.queue, msg)
		return
	}
	c.pending = append(c.pending, msg)
}

// connectionLost records a remote close or local failure as a state-change
// event. The handle stays registered: the application must still close it to
// release resources. No-op if the connection was already closed locally.
func (s *Sockets) connectionLost(c *conn, err error) {
	state := StateProblemDetectedLocally
	if errors.Is(err, io.EOF) ||
		isExpectedCloseError(err) ||
		websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure) {
		state = StateClosedByPeer
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.conns[c.id]
	if !ok || cur != c {
		return
	}
	if c.state == StateClosedByPeer || c.state == StateProblemDetectedLocally {
		return
	}

	old := c.state
	c.state = state
	s.events = append(s.events, StateChange{
		Conn:        c.id,
		State:       state,
		OldState:    old,
		Description: c.desc,
		EndReason:   reason,
	})
}

// writePump drains the outbound queue to the socket and keeps the
// connection alive with periodic pings. Exits when the queue is closed
// (after flushing it, which is what linger close relies on) or on the first
// write error.
func (s *Sockets) writePump(c *conn) {
	ticker := time.NewTicker(s.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", c.desc, err)
				return
			}

			if !ok {
				// Everything queued before the close has been flushed.
				frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason)
				if err := c.ws.WriteMessage(websocket.CloseMessage, frame); err != nil {
					if !isExpectedCloseError(err) {
						log.Printf("Error writing close message to %s: %v", c.desc, err)
					}
				}
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing message to %s: %v", c.desc, err)
				}
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
