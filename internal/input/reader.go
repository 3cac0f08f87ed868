// Package input delivers whole, trimmed lines of console input to a polling
// consumer without ever blocking it.
//
// A background goroutine reads lines one at a time and pushes them onto a
// mutex-protected FIFO queue; the consumer drains the queue with TryNext.
// There is no way to unblock a pending read on the underlying stream, so the
// goroutine is abandoned at process exit rather than joined.
package input

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Reader collects trimmed, non-blank input lines from a stream.
type Reader struct {
	mu     sync.Mutex
	lines  []string
	failed bool
}

// NewReader starts reading lines from r in the background and returns
// immediately. Lines are trimmed of surrounding whitespace before they are
// queued; lines that trim to nothing are discarded.
func NewReader(r io.Reader) *Reader {
	reader := &Reader{}
	go reader.run(r)
	return reader
}

func (r *Reader) run(src io.Reader) {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		r.mu.Lock()
		r.lines = append(r.lines, line)
		r.mu.Unlock()
	}

	// End of input or read error: either way the consumer should wind down.
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
}

// TryNext pops the oldest queued line. It never blocks; the second return
// value is false when no input is ready.
func (r *Reader) TryNext() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lines) == 0 {
		return "", false
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, true
}

// Failed reports whether the input stream has ended or failed. Lines queued
// before the failure can still be drained with TryNext.
func (r *Reader) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
