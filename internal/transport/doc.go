// Package transport provides the messaging layer the chat programs are built
// on: listen sockets, poll groups, connection handles, state-change events,
// and reliable or unreliable message sends, all backed by WebSocket
// connections.
//
// The API is handle-based and polling-oriented. Incoming messages are queued
// on poll groups (or on the connection itself for outgoing client
// connections) and drained with non-blocking receive calls; connection state
// transitions are queued and delivered synchronously on the caller's
// goroutine by RunCallbacks. Nothing in this package calls back into
// application code from its own goroutines, which keeps consumers
// single-threaded.
package transport
