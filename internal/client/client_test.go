// Package client contains unit tests for the interactive client loop,
// driven through a scriptable fake transport.
package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/transport"
)

type sentMessage struct {
	conn    transport.Conn
	payload string
	flags   transport.SendFlags
}

type closedConn struct {
	conn   transport.Conn
	reason string
	linger bool
}

type fakeNetwork struct {
	connectErr error
	conn       transport.Conn

	events   []transport.StateChange
	incoming []*transport.Message

	sent   []sentMessage
	closed []closedConn
}

func (f *fakeNetwork) Connect(addr string) (transport.Conn, error) {
	if f.connectErr != nil {
		return transport.InvalidConn, f.connectErr
	}
	return f.conn, nil
}

func (f *fakeNetwork) CloseConnection(conn transport.Conn, reason string, linger bool) {
	f.closed = append(f.closed, closedConn{conn, reason, linger})
}

func (f *fakeNetwork) SendMessage(conn transport.Conn, payload []byte, flags transport.SendFlags) error {
	f.sent = append(f.sent, sentMessage{conn, string(payload), flags})
	return nil
}

func (f *fakeNetwork) ReceiveMessagesOnConnection(conn transport.Conn, max int) ([]*transport.Message, error) {
	if len(f.incoming) == 0 || max <= 0 {
		return nil, nil
	}
	n := max
	if n > len(f.incoming) {
		n = len(f.incoming)
	}
	out := f.incoming[:n]
	f.incoming = f.incoming[n:]
	return out, nil
}

func (f *fakeNetwork) RunCallbacks(fn func(transport.StateChange)) {
	events := f.events
	f.events = nil
	for _, ev := range events {
		fn(ev)
	}
}

// readerWith queues the given console lines and waits until the reader has
// consumed its stream.
func readerWith(t *testing.T, lines string) *input.Reader {
	t.Helper()

	r := input.NewReader(strings.NewReader(lines))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Failed() {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Timed out waiting for console input to queue")
	return nil
}

// TestConnectFailureIsReported tests that a failed dial surfaces as an error
// from Run instead of entering the loop.
func TestConnectFailureIsReported(t *testing.T) {
	f := &fakeNetwork{connectErr: errors.New("nobody home")}
	c := New(NewConfig(), f, nil)

	if err := c.Run(); err == nil {
		t.Error("Expected Run to fail when the dial fails")
	}
}

// TestTypedLineIsSentReliably tests that a typed chat line goes to the
// server on the reliable stream.
func TestTypedLineIsSentReliably(t *testing.T) {
	f := &fakeNetwork{conn: 3}
	c := New(NewConfig(), f, readerWith(t, "hi room\n"))
	c.conn = 3

	c.pollLocalUserInput()

	if len(f.sent) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(f.sent))
	}
	if f.sent[0].payload != "hi room" || f.sent[0].flags != transport.SendReliable {
		t.Errorf("Expected reliable %q, got %+v", "hi room", f.sent[0])
	}
}

// TestQuitCommandStopsWithoutSending tests that /quit sets the shutdown flag
// and is not forwarded to the server as a chat message.
func TestQuitCommandStopsWithoutSending(t *testing.T) {
	f := &fakeNetwork{conn: 3}
	c := New(NewConfig(), f, readerWith(t, "/quit\n"))
	c.conn = 3

	c.pollLocalUserInput()

	if !c.quit {
		t.Error("Expected the shutdown flag to be set after /quit")
	}
	if len(f.sent) != 0 {
		t.Errorf("Expected no sends, got %v", f.sent)
	}
}

// TestServerCloseEndsTheSession tests that a ClosedByPeer transition makes
// the client release its handle and leave the loop.
func TestServerCloseEndsTheSession(t *testing.T) {
	f := &fakeNetwork{conn: 3}
	c := New(NewConfig(), f, nil)
	c.conn = 3

	f.events = append(f.events, transport.StateChange{
		Conn:     3,
		State:    transport.StateClosedByPeer,
		OldState:  transport.StateConnected,
		EndReason: "server shutdown",
	})
	c.pollConnectionStateChanges()

	if !c.quit {
		t.Error("Expected the shutdown flag to be set after the server closed")
	}
	if len(f.closed) != 1 || f.closed[0].linger {
		t.Errorf("Expected one immediate close, got %v", f.closed)
	}
	if c.conn != transport.InvalidConn {
		t.Error("Expected the connection handle to be invalidated")
	}
}
