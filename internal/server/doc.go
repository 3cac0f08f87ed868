// Package server implements the chat server: a single-threaded polling loop
// that accepts inbound connections, tracks them in a registry, and fans
// received text out to every other connected client.
//
// The implementation is organized into specialized files for configuration,
// the transport-facing interface, and the loop itself to keep the codebase
// maintainable and testable as the project grows.
package server
