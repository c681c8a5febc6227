// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package sse

import (
	"errors"
	"sync"
	"time"

	"github.com/cardinalhq/flagrelay/internal/idgen"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// Connection is one subscribed client. Sends never block; the HTTP handler
// that owns the connection drains Frames and writes them to the client.
type Connection struct {
	id        string
	namespace string
	created   time.Time

	mu     sync.Mutex
	closed bool
	frames chan Frame
	done   chan struct{}
}

func newConnection(namespace string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		id:        idgen.NewConnectionID(),
		namespace: namespace,
		created:   time.Now(),
		frames:    make(chan Frame, bufferSize),
		done:      make(chan struct{}),
	}
}

// ID returns the connection's log identifier.
func (c *Connection) ID() string { return c.id }

// Namespace returns the scope, or "" for a global connection.
func (c *Connection) Namespace() string { return c.namespace }

// Frames yields queued events until the connection is closed.
func (c *Connection) Frames() <-chan Frame { return c.frames }

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send enqueues a frame without blocking.
func (c *Connection) Send(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.frames <- Frame{Event: event, Data: data}:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the connection closed. It is safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
