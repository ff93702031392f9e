package protocol

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the size of the read and write buffers of a Conn.
const DefaultBufferSize = 4096

// Conn is an accepted connection shared by every protocol that handles it.
// Reads go through one buffered reader that outlives protocol switches, so
// bytes buffered by one protocol stay readable by the next.
//
// Conn implements net.Conn (reads are buffered, writes go straight to the
// socket) and Transport.
type Conn struct {
	net.Conn

	id        string
	r         *bufio.Reader
	w         *bufio.Writer
	createdAt time.Time

	mu       sync.Mutex
	status   Status
	protocol ID
	handoff  any
}

// NewConn wraps c. A non-positive bufSize selects DefaultBufferSize.
func NewConn(c net.Conn, bufSize int) *Conn {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Conn{
		Conn:      c,
		id:        uuid.NewString(),
		r:         bufio.NewReaderSize(c, bufSize),
		w:         bufio.NewWriterSize(c, bufSize),
		createdAt: time.Now(),
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// CreatedAt returns the accept time.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Read reads through the shared buffered reader.
func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Reader returns the shared buffered reader.
func (c *Conn) Reader() *bufio.Reader { return c.r }

// Writer returns the shared buffered writer. Protocols must Flush before
// returning from Handle.
func (c *Conn) Writer() *bufio.Writer { return c.w }

// Peek returns the next n bytes without consuming them.
func (c *Conn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

// Buffered returns the bytes read from the socket but not yet consumed.
func (c *Conn) Buffered() []byte {
	b, _ := c.r.Peek(c.r.Buffered())
	return b
}

// Flush writes any buffered output to the socket.
func (c *Conn) Flush() error {
	return c.w.Flush()
}

// Close flushes buffered output and closes the socket.
func (c *Conn) Close() error {
	_ = c.w.Flush()
	return c.Conn.Close()
}

// Status returns the current lifecycle status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus replaces the lifecycle status.
func (c *Conn) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// FramePassed records a successfully processed frame.
func (c *Conn) FramePassed() {
	c.mu.Lock()
	c.status.FramePassed()
	c.mu.Unlock()
}

// Protocol returns the ID of the protocol currently handling the connection.
func (c *Conn) Protocol() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

func (c *Conn) setProtocol(id ID) {
	c.mu.Lock()
	c.protocol = id
	c.mu.Unlock()
}

// SetHandoff stores state for the protocol that takes over after a switch,
// such as the parsed upgrade request.
func (c *Conn) SetHandoff(v any) {
	c.mu.Lock()
	c.handoff = v
	c.mu.Unlock()
}

// Handoff returns and clears the state left by the previous protocol.
func (c *Conn) Handoff() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.handoff
	c.handoff = nil
	return v
}
