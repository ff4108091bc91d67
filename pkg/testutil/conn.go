// Package testutil provides helpers shared by package tests.
package testutil

import (
	"encoding/json"
	"sync"
)

// Conn is an in-memory socket transport that records every frame.
type Conn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	writeErr error
}

// NewConn creates an open connection.
func NewConn() *Conn {
	return &Conn{}
}

func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}

	c.messages = append(c.messages, append([]byte(nil), data...))

	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

// FailWrites makes every later write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeErr = err
}

// Messages returns a copy of the recorded frames.
func (c *Conn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.messages))
	copy(out, c.messages)

	return out
}

// Decoded returns every recorded frame decoded as a JSON object.
func (c *Conn) Decoded() []map[string]any {
	frames := c.Messages()
	out := make([]map[string]any, 0, len(frames))

	for _, frame := range frames {
		var decoded map[string]any

		if err := json.Unmarshal(frame, &decoded); err == nil {
			out = append(out, decoded)
		}
	}

	return out
}

// Types returns the "type" field of every recorded frame.
func (c *Conn) Types() []string {
	decoded := c.Decoded()
	out := make([]string, 0, len(decoded))

	for _, frame := range decoded {
		kind, _ := frame["type"].(string)
		out = append(out, kind)
	}

	return out
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
}
