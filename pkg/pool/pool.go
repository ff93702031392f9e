package pool

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Key is the fingerprint identifying interchangeable connections.
type Key struct {
	Host     string
	Port     uint16
	Protocol string
	TLS      bool
}

// Addr returns host:port.
func (k Key) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(int(k.Port)))
}

// String returns a readable form such as "http1+tls://example.com:443".
func (k Key) String() string {
	s := k.Protocol
	if k.TLS {
		s += "+tls"
	}
	return s + "://" + k.Addr()
}

// Config bounds the pool.
type Config struct {
	// MaxIdlePerKey caps free connections per key; the oldest is dropped
	// when a release would exceed it. Zero means unbounded.
	MaxIdlePerKey int `yaml:"maxIdlePerKey" json:"maxIdlePerKey"`

	// MaxConnsPerKey caps checked-out plus free plus dialing connections
	// per key. Acquire fails with KindPoolExhausted beyond it. Zero means
	// unbounded.
	MaxConnsPerKey int `yaml:"maxConnsPerKey" json:"maxConnsPerKey"`

	// IdleTimeout evicts free connections idle longer than this.
	IdleTimeout time.Duration `yaml:"idleTimeout" json:"idleTimeout"`

	// MaxLifetime evicts connections older than this. Zero disables it.
	MaxLifetime time.Duration `yaml:"maxLifetime" json:"maxLifetime"`

	// DialTimeout bounds dial plus TLS handshake.
	DialTimeout time.Duration `yaml:"dialTimeout" json:"dialTimeout"`

	// SweepInterval is the period of Run's background sweep.
	SweepInterval time.Duration `yaml:"sweepInterval" json:"sweepInterval"`

	// Disabled turns every acquire into a dial and every release into a
	// close.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxIdlePerKey: 32,
		IdleTimeout:   90 * time.Second,
		MaxLifetime:   5 * time.Minute,
		DialTimeout:   30 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Stats is a snapshot of pool counters. Evictions counts connections
// dropped as unhealthy, expired or over the idle cap; closes caused by
// Clear, Close or a disabled pool are not evictions.
type Stats struct {
	Hits              uint64 `json:"hits"`
	Misses            uint64 `json:"misses"`
	PooledConnections int64  `json:"pooledConnections"`
	Evictions         uint64 `json:"evictions"`
}

// DialFunc opens a connection for key.
type DialFunc func(ctx context.Context, key Key) (net.Conn, error)

// Option configures a Pool.
type Option func(*Pool)

// WithDialFunc replaces the default Dialer.
func WithDialFunc(fn DialFunc) Option {
	return func(p *Pool) { p.dial = fn }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithHealthCheck replaces the liveness probe run on free connections
// before they are handed out.
func WithHealthCheck(fn func(net.Conn) bool) Option {
	return func(p *Pool) { p.alive = fn }
}

// Pool is a key-indexed cache of client connections. It is safe for
// concurrent use.
type Pool struct {
	cfg   Config
	dial  DialFunc
	alive func(net.Conn) bool
	now   func() time.Time
	log   *slog.Logger

	mu        sync.Mutex
	free      map[Key][]*Conn
	occupancy map[Key]int
	dialing   map[Key]int
	closed    bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	pooled    atomic.Int64
}

// New creates a pool.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:       cfg,
		alive:     Probe,
		now:       time.Now,
		log:       logging.Nop(),
		free:      make(map[Key][]*Conn),
		occupancy: make(map[Key]int),
		dialing:   make(map[Key]int),
	}
	d := &Dialer{Timeout: cfg.DialTimeout}
	p.dial = d.Dial
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// Acquire returns a connection for key, reusing a free one when possible.
func (p *Pool) Acquire(ctx context.Context, key Key) (*Conn, error) {
	if key.Port == 0 {
		p.misses.Add(1)
		return nil, protocol.Errorf(protocol.KindPortRequired, "no port for %s", key.Host)
	}

	for {
		c, stale := p.takeFree(key)
		p.discard(stale)
		if c == nil {
			break
		}
		if p.alive(c.Conn) {
			p.hits.Add(1)
			return c, nil
		}
		p.log.Debug("dropping dead pooled connection", "key", key.String())
		p.mu.Lock()
		p.evictLocked(c)
		p.mu.Unlock()
		p.discard([]*Conn{c})
	}

	p.misses.Add(1)
	if err := p.reserve(key); err != nil {
		return nil, err
	}

	dialCtx := ctx
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}
	nc, err := p.dial(dialCtx, key)

	p.mu.Lock()
	p.dialing[key]--
	if p.dialing[key] <= 0 {
		delete(p.dialing, key)
	}
	if err != nil {
		p.mu.Unlock()
		return nil, protocol.Classify(err)
	}
	now := p.now()
	c := &Conn{Conn: nc, key: key, pool: p, createdAt: now, lastUsed: now, checkedOut: true}
	p.occupancy[key]++
	p.pooled.Add(1)
	p.mu.Unlock()

	p.log.Debug("dialed pooled connection", "key", key.String())
	return c, nil
}

// takeFree pops the most recently used valid free connection for key and
// marks it checked out. Expired or broken connections found on the way are
// removed and returned for closing.
func (p *Pool) takeFree(key Key) (*Conn, []*Conn) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.cfg.Disabled {
		return nil, nil
	}

	var stale []*Conn
	stack := p.free[key]
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.broken.Load() || p.expired(c, now) {
			p.evictLocked(c)
			stale = append(stale, c)
			continue
		}
		p.setFree(key, stack)
		c.checkedOut = true
		c.lastUsed = now
		return c, stale
	}
	p.setFree(key, stack)
	return nil, stale
}

func (p *Pool) reserve(key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if max := p.cfg.MaxConnsPerKey; max > 0 && p.occupancy[key]+p.dialing[key] >= max {
		return protocol.Errorf(protocol.KindPoolExhausted, "%d connections open to %s", max, key)
	}
	p.dialing[key]++
	return nil
}

// Release returns c to the free set when it is still reusable and closes it
// otherwise. Releasing a connection that is not checked out is a no-op.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	now := p.now()

	p.mu.Lock()
	if !c.checkedOut {
		p.mu.Unlock()
		return
	}
	c.checkedOut = false

	if c.broken.Load() || p.overLifetime(c, now) {
		p.evictLocked(c)
		p.mu.Unlock()
		p.discard([]*Conn{c})
		return
	}
	if p.closed || p.cfg.Disabled {
		p.removeLocked(c)
		p.mu.Unlock()
		p.discard([]*Conn{c})
		return
	}

	c.lastUsed = now
	stack := append(p.free[c.key], c)
	var dropped *Conn
	if max := p.cfg.MaxIdlePerKey; max > 0 && len(stack) > max {
		dropped = stack[0]
		stack = stack[1:]
		p.evictLocked(dropped)
	}
	p.free[c.key] = stack
	p.mu.Unlock()

	if dropped != nil {
		p.discard([]*Conn{dropped})
	}
}

// Sweep evicts free connections that are idle too long or past their
// lifetime, and returns how many it evicted.
func (p *Pool) Sweep() int {
	now := p.now()

	p.mu.Lock()
	var stale []*Conn
	for key, stack := range p.free {
		kept := stack[:0]
		for _, c := range stack {
			if c.broken.Load() || p.expired(c, now) {
				p.evictLocked(c)
				stale = append(stale, c)
				continue
			}
			kept = append(kept, c)
		}
		p.setFree(key, kept)
	}
	p.mu.Unlock()

	p.discard(stale)
	return len(stale)
}

// Run sweeps every SweepInterval until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				p.log.Debug("evicted idle connections", "count", n)
			}
		}
	}
}

// Clear closes every free connection. Checked-out connections are
// unaffected.
func (p *Pool) Clear() {
	p.mu.Lock()
	var all []*Conn
	for key, stack := range p.free {
		for _, c := range stack {
			p.removeLocked(c)
			all = append(all, c)
		}
		delete(p.free, key)
	}
	p.mu.Unlock()

	p.discard(all)
}

// Close clears the pool and makes later acquires fail. Connections still
// checked out are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Clear()
	return nil
}

// Stats returns a snapshot of the counters without taking the pool lock.
func (p *Pool) Stats() Stats {
	return Stats{
		Hits:              p.hits.Load(),
		Misses:            p.misses.Load(),
		PooledConnections: p.pooled.Load(),
		Evictions:         p.evictions.Load(),
	}
}

// Idle returns the number of free connections for key.
func (p *Pool) Idle(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[key])
}

func (p *Pool) expired(c *Conn, now time.Time) bool {
	if p.cfg.IdleTimeout > 0 && now.Sub(c.lastUsed) > p.cfg.IdleTimeout {
		return true
	}
	return p.overLifetime(c, now)
}

func (p *Pool) overLifetime(c *Conn, now time.Time) bool {
	return p.cfg.MaxLifetime > 0 && now.Sub(c.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool) setFree(key Key, stack []*Conn) {
	if len(stack) == 0 {
		delete(p.free, key)
		return
	}
	p.free[key] = stack
}

// removeLocked drops c from the occupancy map. Callers hold p.mu.
func (p *Pool) removeLocked(c *Conn) {
	if c.removed {
		return
	}
	c.removed = true
	p.occupancy[c.key]--
	if p.occupancy[c.key] <= 0 {
		delete(p.occupancy, c.key)
	}
	p.pooled.Add(-1)
}

// evictLocked is removeLocked counted as an eviction.
func (p *Pool) evictLocked(c *Conn) {
	if !c.removed {
		p.evictions.Add(1)
	}
	p.removeLocked(c)
}

// closeConn drops c wherever it is: a checked-out connection is released
// as broken, a free one is taken off the free set and evicted.
func (p *Pool) closeConn(c *Conn) error {
	c.broken.Store(true)

	p.mu.Lock()
	if c.checkedOut {
		p.mu.Unlock()
		p.Release(c)
		return nil
	}
	if c.removed {
		p.mu.Unlock()
		return nil
	}
	stack := p.free[c.key]
	for i, fc := range stack {
		if fc == c {
			p.setFree(c.key, append(stack[:i:i], stack[i+1:]...))
			break
		}
	}
	p.evictLocked(c)
	p.mu.Unlock()

	p.discard([]*Conn{c})
	return nil
}

// discard closes connections outside the lock.
func (p *Pool) discard(conns []*Conn) {
	for _, c := range conns {
		_ = c.Conn.Close()
	}
}

// Probe reports whether an idle connection is still open. Any readable byte
// or EOF on an idle connection means it can no longer be reused.
func Probe(c net.Conn) bool {
	if err := c.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer func() { _ = c.SetReadDeadline(time.Time{}) }()

	var one [1]byte
	n, err := c.Read(one[:])
	if n > 0 {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
