// Package server contains an end-to-end scenario test that runs the real
// server loop against the real transport: two peers connect, one says hello,
// the other hears it, and the operator shuts the server down.
package server

import (
	"io"
	"testing"
	"time"

	"github.com/Tyrowin/peerchat/internal/input"
	"github.com/Tyrowin/peerchat/internal/transport"
)

// dialWithRetry keeps dialing until the server's listen socket is up.
func dialWithRetry(t *testing.T, net *transport.Sockets, addr string) transport.Conn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Connect(addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out connecting to %s", addr)
	return transport.InvalidConn
}

// receiveWithin polls a client connection until a message arrives.
func receiveWithin(t *testing.T, net *transport.Sockets, conn transport.Conn, timeout time.Duration) (string, bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msgs, err := net.ReceiveMessagesOnConnection(conn, 1)
		if err != nil {
			return "", false
		}
		if len(msgs) > 0 {
			return string(msgs[0].Payload), true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", false
}

// TestTwoPeerChatScenario tests the canonical flow: start the server on port
// 27020, connect two peers, have peer 1 send "hello", and verify peer 2
// receives it while peer 1 does not hear its own message. Quitting then
// delivers the shutdown notice to both peers before their connections close.
func TestTwoPeerChatScenario(t *testing.T) {
	serverNet := transport.New(nil)
	clientNet := transport.New(nil)

	console, consoleInput := io.Pipe()
	defer func() { _ = consoleInput.Close() }()

	cfg := NewConfig()
	cfg.TickInterval = time.Millisecond
	srv := New(cfg, serverNet, input.NewReader(console))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	peer1 := dialWithRetry(t, clientNet, "localhost:27020")
	peer2 := dialWithRetry(t, clientNet, "localhost:27020")

	// Give the server a few ticks to accept both peers.
	time.Sleep(100 * time.Millisecond)

	if err := clientNet.SendMessage(peer1, []byte("hello"), transport.SendReliable); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	got, ok := receiveWithin(t, clientNet, peer2, 2*time.Second)
	if !ok {
		t.Fatal("Peer 2 never received the broadcast")
	}
	if got != "hello" {
		t.Fatalf("Expected peer 2 to receive %q, got %q", "hello", got)
	}

	if echoed, ok := receiveWithin(t, clientNet, peer1, 200*time.Millisecond); ok {
		t.Fatalf("Peer 1 received its own message back: %q", echoed)
	}

	if _, err := consoleInput.Write([]byte("/quit\n")); err != nil {
		t.Fatalf("Failed to write quit command: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after /quit")
	}

	for _, peer := range []transport.Conn{peer1, peer2} {
		notice, ok := receiveWithin(t, clientNet, peer, 2*time.Second)
		if !ok {
			t.Fatalf("Peer %d never received the shutdown notice", peer)
		}
		if notice != shutdownNotice {
			t.Errorf("Expected shutdown notice %q, got %q", shutdownNotice, notice)
		}
	}
}
