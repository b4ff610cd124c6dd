package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Conn is a live push connection as the registry sees it: an opaque handle
// that frames can be written to. The underlying transport never leaks into
// the registry, so tests attach fake handles.
type Conn interface {
	// ID uniquely identifies the connection within the process.
	ID() string

	// Write queues one wire frame for delivery. An error means the
	// connection is dead or hopelessly backed up; the registry responds by
	// detaching it.
	Write(frame []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

var (
	// ErrConnClosed is returned by Write after the connection closed.
	ErrConnClosed = errors.New("connection closed")

	// ErrConnBackpressure is returned by Write when the outbound buffer is
	// full. A reader this far behind is treated as dead.
	ErrConnBackpressure = errors.New("connection write buffer full")
)

// StreamConn adapts a streaming HTTP response to the Conn interface with a
// buffered outbound frame queue. The registry writes frames in; the SSE
// handler goroutine drains Frames into the response body and closes the
// conn when the transport reports closure.
type StreamConn struct {
	id     string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewStreamConn creates a stream connection with the given outbound buffer.
func NewStreamConn(buffer int) *StreamConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamConn{
		id:     uuid.New().String(),
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *StreamConn) ID() string { return c.id }

// Write queues a frame for the drain loop.
func (c *StreamConn) Write(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.frames <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrConnBackpressure
	}
}

// Close marks the connection closed and wakes the drain loop.
func (c *StreamConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Frames is the outbound frame queue, consumed by the transport loop.
func (c *StreamConn) Frames() <-chan []byte { return c.frames }

// Done is closed when the connection has been closed.
func (c *StreamConn) Done() <-chan struct{} { return c.done }
