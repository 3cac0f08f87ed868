// Package transport implements the Sockets hub that issues connection
// handles, tracks poll groups and listen sockets, and queues state-change
// events for synchronous delivery.
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Sockets is one instance of the messaging layer. Multiple instances can
// coexist in a process (for example a server and a client in the same test),
// each with its own handle space and event queue.
type Sockets struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu         sync.Mutex
	nextHandle uint32
	conns      map[Conn]*conn
	listeners  map[ListenSocket]*listener
	pollGroups map[PollGroup]*pollGroup
	events     []StateChange
}

type listener struct {
	ln  net.Listener
	srv *http.Server
}

type pollGroup struct {
	queue []*Message
}

// New creates a Sockets instance. Passing nil uses default configuration.
func New(cfg *Config) *Sockets {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = sanitizeTransportConfig(c)

	s := &Sockets{
		cfg: c,
		dialer: &websocket.Dialer{
			HandshakeTimeout: c.HandshakeTimeout,
		},
		conns:      make(map[Conn]*conn),
		listeners:  make(map[ListenSocket]*listener),
		pollGroups: make(map[PollGroup]*pollGroup),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// handle issues the next handle value. Caller must hold s.mu. Handles are
// drawn from one counter so a connection handle is never confused with a
// poll group handle in logs.
func (s *Sockets) handle() uint32 {
	s.nextHandle++
	return s.nextHandle
}

// CreateListenSocket binds the given TCP port and starts accepting inbound
// connection requests. Port 0 picks a free port; use ListenAddr to discover
// it. New connections surface as StateConnecting events and exchange no data
// until accepted.
func (s *Sockets) CreateListenSocket(port int) (ListenSocket, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return InvalidListenSocket, fmt.Errorf("listening on port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleInbound)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Listen socket stopped serving: %v", err)
		}
	}()

	s.mu.Lock()
	id := ListenSocket(s.handle())
	s.listeners[id] = &listener{ln: ln, srv: srv}
	s.mu.Unlock()

	return id, nil
}

// ListenAddr returns the bound address of a listen socket, or "" for an
// unknown handle.
func (s *Sockets) ListenAddr(ls ListenSocket) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listeners[ls]
	if !ok {
		return ""
	}
	return l.ln.Addr().String()
}

// CloseListenSocket stops accepting new connections. Connections already
// established stay open.
func (s *Sockets) CloseListenSocket(ls ListenSocket) {
	s.mu.Lock()
	l, ok := s.listeners[ls]
	delete(s.listeners, ls)
	s.mu.Unlock()

	if ok {
		_ = l.srv.Close()
	}
}

// handleInbound upgrades an inbound HTTP request and registers the resulting
// connection in the Connecting state. Pumps do not start until the
// application accepts the connection.
func (s *Sockets) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Connection upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	c := s.newConnLocked(ws, r.RemoteAddr, true)
	s.events = append(s.events, StateChange{
		Conn:        c.id,
		State:       StateConnecting,
		OldState:    StateNone,
		Description: c.desc,
	})
	s.mu.Unlock()
}

// newConnLocked registers a connection in the Connecting state. Caller must
// hold s.mu.
func (s *Sockets) newConnLocked(ws *websocket.Conn, remoteAddr string, inbound bool) *conn {
	id := Conn(s.handle())
	c := &conn{
		id:      id,
		ws:      ws,
		desc:    fmt.Sprintf("conn #%d (%s) from %s", id, uuid.NewString()[:8], remoteAddr),
		inbound: inbound,
		state:   StateConnecting,
		send:    make(chan []byte, s.cfg.SendBufferSize),
		done:    make(chan struct{}),
		limiter: newRateLimiter(s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval),
	}
	s.conns[id] = c
	return c
}

// AcceptConnection accepts a pending inbound connection and starts moving
// data on it. Only connections in the Connecting state can be accepted.
func (s *Sockets) AcceptConnection(id Conn) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	if !ok {
		s.mu.Unlock()
		return ErrInvalidConn
	}
	if c.state != StateConnecting || !c.inbound {
		s.mu.Unlock()
		return ErrConnNotConnecting
	}
	c.state = StateConnected
	c.pumpsStarted = true
	s.events = append(s.events, StateChange{
		Conn:        id,
		State:       StateConnected,
		OldState:    StateConnecting,
		Description: c.desc,
	})
	s.mu.Unlock()

	go s.readPump(c)
	go s.writePump(c)
	return nil
}

// Connect establishes an outgoing connection to a listening peer at
// host:port. Outgoing connections skip acceptance: a successful dial queues
// Connecting and Connected transitions back to back.
func (s *Sockets) Connect(addr string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/chat"}

	ws, resp, err := s.dialer.Dial(u.String(), nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return InvalidConn, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	s.mu.Lock()
	c := s.newConnLocked(ws, addr, false)
	s.events = append(s.events,
		StateChange{Conn: c.id, State: StateConnecting, OldState: StateNone, Description: c.desc},
		StateChange{Conn: c.id, State: StateConnected, OldState: StateConnecting, Description: c.desc},
	)
	c.state = StateConnected
	c.pumpsStarted = true
	s.mu.Unlock()

	go s.readPump(c)
	go s.writePump(c)
	return c.id, nil
}

// CreatePollGroup creates an empty poll group.
func (s *Sockets) CreatePollGroup() PollGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := PollGroup(s.handle())
	s.pollGroups[id] = &pollGroup{}
	return id
}

// DestroyPollGroup destroys a poll group, discarding any queued messages.
// Member connections stay open and fall back to per-connection queues.
func (s *Sockets) DestroyPollGroup(pg PollGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pollGroups, pg)
}

// SetConnectionPollGroup routes the connection's incoming messages to the
// given poll group. Messages queued on the connection before assignment move
// to the group so none are lost. Returns false if either handle is unknown.
func (s *Sockets) SetConnectionPollGroup(id Conn, pg PollGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return false
	}
	group, ok := s.pollGroups[pg]
	if !ok {
		return false
	}

	c.pollGroup = pg
	if len(c.pending) > 0 {
		group.queue = append(group.queue, c.pending...)
		c.pending = nil
	}
	return true
}

// ReceiveMessages drains up to max messages from a poll group without
// blocking. An empty group yields a nil slice and no error.
func (s *Sockets) ReceiveMessages(pg PollGroup, max int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.pollGroups[pg]
	if !ok {
		return nil, ErrInvalidPollGroup
	}
	return popMessages(&group.queue, max), nil
}

// ReceiveMessagesOnConnection drains up to max messages queued on a single
// connection that is not assigned to a poll group.
func (s *Sockets) ReceiveMessagesOnConnection(id Conn, max int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return nil, ErrInvalidConn
	}
	return popMessages(&c.pending, max), nil
}

func popMessages(queue *[]*Message, max int) []*Message {
	if max <= 0 || len(*queue) == 0 {
		return nil
	}
	n := max
	if n > len(*queue) {
		n = len(*queue)
	}
	out := make([]*Message, n)
	copy(out, (*queue)[:n])
	*queue = (*queue)[n:]
	return out
}

// SendMessage queues a message for delivery on a connection. Unreliable
// sends never block: if the outbound queue is full the message is silently
// dropped. Reliable sends wait for queue space until the connection closes.
func (s *Sockets) SendMessage(id Conn, payload []byte, flags SendFlags) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok && (c.state == StateClosedByPeer || c.state == StateProblemDetectedLocally) {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return ErrInvalidConn
	}
	return c.enqueue(payload, flags)
}

// CloseConnection releases a connection handle. With linger set, queued
// outbound messages are flushed before the close frame; otherwise the
// underlying socket is torn down immediately. The handle is invalid
// afterwards; a StateNone transition is queued and can be ignored.
func (s *Sockets) CloseConnection(id Conn, reason string, linger bool) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, id)
	old := c.state
	c.state = StateNone
	s.events = append(s.events, StateChange{
		Conn:        id,
		State:       StateNone,
		OldState:    old,
		Description: c.desc,
		EndReason:   reason,
	})
	s.mu.Unlock()

	c.teardown(reason, linger)
}

// RunCallbacks synchronously delivers every queued state-change event, in
// arrival order, on the caller's goroutine. Events queued by fn itself (for
// example by closing a connection from inside the handler) are delivered on
// the next call.
func (s *Sockets) RunCallbacks(fn func(StateChange)) {
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.mu.Unlock()

	for _, ev := range events {
		fn(ev)
	}
}

// ConnectionDescription returns the log description for a handle, or "" if
// the handle is unknown.
func (s *Sockets) ConnectionDescription(id Conn) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return ""
	}
	return c.desc
}
