package pool

import (
	"net"
	"sync/atomic"
	"time"
)

// Conn is a pooled connection. Fields other than the embedded net.Conn are
// guarded by the owning pool's lock.
type Conn struct {
	net.Conn

	key        Key
	pool       *Pool
	createdAt  time.Time
	lastUsed   time.Time
	checkedOut bool
	removed    bool
	broken     atomic.Bool
}

// Key returns the fingerprint the connection was dialed for.
func (c *Conn) Key() Key { return c.key }

// CreatedAt returns the dial time.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// MarkBroken flags the connection as unusable; Release will drop it.
func (c *Conn) MarkBroken() { c.broken.Store(true) }

// Broken reports whether MarkBroken was called.
func (c *Conn) Broken() bool { return c.broken.Load() }

// Release hands the connection back to its pool.
func (c *Conn) Release() { c.pool.Release(c) }

// Close drops the connection from the pool and closes it, whether it is
// checked out or already back in the free set.
func (c *Conn) Close() error { return c.pool.closeConn(c) }
