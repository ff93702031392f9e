package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/polyd/pkg/protocol"
)

var testKey = Key{Host: "api.example.com", Port: 443, Protocol: "http1", TLS: true}

type pipeDialer struct {
	mu    sync.Mutex
	dials int
	peers []net.Conn
	err   error
}

func (d *pipeDialer) dial(context.Context, Key) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	a, b := net.Pipe()
	d.peers = append(d.peers, b)
	return a, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *pipeDialer) closePeers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		_ = p.Close()
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *pipeDialer, *fakeClock) {
	t.Helper()
	d := &pipeDialer{}
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := New(cfg, WithDialFunc(d.dial), WithClock(clk.Now))
	t.Cleanup(func() {
		_ = p.Close()
		d.closePeers()
	})
	return p, d, clk
}

func TestPool_SequentialReuse(t *testing.T) {
	p, d, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	const n = 5
	var first *Conn
	for i := 0; i < n; i++ {
		c, err := p.Acquire(ctx, testKey)
		require.NoError(t, err)
		if first == nil {
			first = c
		}
		assert.Same(t, first, c)
		c.Release()
	}

	assert.Equal(t, Stats{Hits: n - 1, Misses: 1, PooledConnections: 1}, p.Stats())
	assert.Equal(t, 1, d.count())
	assert.Equal(t, 1, p.Idle(testKey))
}

func TestPool_ConcurrentAcquireNeverShares(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	var warm []*Conn
	for i := 0; i < 5; i++ {
		c, err := p.Acquire(ctx, testKey)
		require.NoError(t, err)
		warm = append(warm, c)
	}
	for _, c := range warm {
		c.Release()
	}

	const workers = 20
	var (
		mu   sync.Mutex
		held = make(map[*Conn]bool)
		wg   sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c, err := p.Acquire(ctx, testKey)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			assert.False(t, held[c], "connection handed out twice")
			held[c] = true
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, held, workers)
	s := p.Stats()
	assert.Equal(t, uint64(5+workers), s.Hits+s.Misses)
	assert.Equal(t, uint64(5), s.Hits)
	assert.Equal(t, int64(workers), s.PooledConnections)

	for c := range held {
		c.Release()
	}
	assert.Equal(t, workers, p.Idle(testKey))
}

func TestPool_DifferentKeysDoNotShare(t *testing.T) {
	p, d, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	a, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	a.Release()

	plain := testKey
	plain.TLS = false
	b, err := p.Acquire(ctx, plain)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, plain, b.Key())
	assert.Equal(t, 2, d.count())
}

func TestPool_BrokenConnectionsAreEvicted(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.MarkBroken()
	assert.True(t, c.Broken())
	c.Release()

	assert.Equal(t, Stats{Misses: 1, Evictions: 1}, p.Stats())

	c, err = p.Acquire(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, Stats{Misses: 2, Evictions: 2}, p.Stats())
}

func TestPool_CloseAfterReleaseLeavesFreeSet(t *testing.T) {
	p, d, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.Release()
	require.Equal(t, 1, p.Idle(testKey))

	require.NoError(t, c.Close())
	assert.Equal(t, 0, p.Idle(testKey))
	assert.Equal(t, Stats{Misses: 1, Evictions: 1}, p.Stats())
	require.NoError(t, c.Close())
	assert.Equal(t, uint64(1), p.Stats().Evictions)

	c2, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.False(t, c2.Broken())
	assert.Equal(t, Stats{Misses: 2, PooledConnections: 1, Evictions: 1}, p.Stats())
	assert.Equal(t, 2, d.count())
}

func TestPool_BrokenFreeConnectionIsSkipped(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.Release()
	c.MarkBroken()

	c2, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.Equal(t, Stats{Misses: 2, PooledConnections: 1, Evictions: 1}, p.Stats())
}

func TestPool_DoubleReleaseIsNoop(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())

	c, err := p.Acquire(context.Background(), testKey)
	require.NoError(t, err)
	c.Release()
	c.Release()
	p.Release(nil)

	assert.Equal(t, 1, p.Idle(testKey))
	assert.Equal(t, int64(1), p.Stats().PooledConnections)
}

func TestPool_SweepEvictsIdle(t *testing.T) {
	cfg := DefaultConfig()
	p, _, clk := newTestPool(t, cfg)

	c, err := p.Acquire(context.Background(), testKey)
	require.NoError(t, err)
	c.Release()

	clk.Advance(cfg.IdleTimeout / 2)
	assert.Equal(t, 0, p.Sweep())

	clk.Advance(cfg.IdleTimeout)
	assert.Equal(t, 1, p.Sweep())
	assert.Equal(t, Stats{Misses: 1, Evictions: 1}, p.Stats())
	assert.Equal(t, 0, p.Idle(testKey))
}

func TestPool_AcquireSkipsExpired(t *testing.T) {
	cfg := DefaultConfig()
	p, d, clk := newTestPool(t, cfg)
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.Release()
	clk.Advance(cfg.IdleTimeout + time.Second)

	c2, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.Equal(t, Stats{Misses: 2, PooledConnections: 1, Evictions: 1}, p.Stats())
	assert.Equal(t, 2, d.count())
}

func TestPool_MaxLifetimeOnRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLifetime = time.Minute
	p, _, clk := newTestPool(t, cfg)

	c, err := p.Acquire(context.Background(), testKey)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	c.Release()

	assert.Equal(t, 0, p.Idle(testKey))
	assert.Equal(t, uint64(1), p.Stats().Evictions)
}

func TestPool_Exhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerKey = 1
	p, _, _ := newTestPool(t, cfg)
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)

	_, err = p.Acquire(ctx, testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.KindPoolExhausted)

	c.Release()
	c2, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.Same(t, c, c2)

	s := p.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
}

func TestPool_MaxIdleDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIdlePerKey = 1
	p, _, clk := newTestPool(t, cfg)
	ctx := context.Background()

	a, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)

	a.Release()
	clk.Advance(time.Second)
	b.Release()

	assert.Equal(t, 1, p.Idle(testKey))
	assert.Equal(t, Stats{Misses: 2, PooledConnections: 1, Evictions: 1}, p.Stats())

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.Same(t, b, c)
}

func TestPool_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = true
	p, d, _ := newTestPool(t, cfg)

	for i := 0; i < 2; i++ {
		c, err := p.Acquire(context.Background(), testKey)
		require.NoError(t, err)
		c.Release()
	}

	assert.Equal(t, Stats{Misses: 2}, p.Stats(), "disabled-mode closes are not evictions")
	assert.Equal(t, 2, d.count())
}

func TestPool_DialFailureReleasesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerKey = 1
	p, d, _ := newTestPool(t, cfg)
	ctx := context.Background()

	d.err = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("unreachable")}
	_, err := p.Acquire(ctx, testKey)
	require.Error(t, err)
	assert.Equal(t, protocol.KindIo, protocol.KindOf(err))
	assert.Equal(t, Stats{Misses: 1}, p.Stats())

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.Release()
}

func TestPool_PortRequired(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())

	_, err := p.Acquire(context.Background(), Key{Host: "example.com", Protocol: "http1"})
	assert.ErrorIs(t, err, protocol.KindPortRequired)
	assert.Equal(t, uint64(1), p.Stats().Misses)
}

func TestPool_PeerClosedConnectionIsNotReused(t *testing.T) {
	p, d, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	c.Release()
	d.closePeers()

	c2, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.Equal(t, Stats{Misses: 2, PooledConnections: 1, Evictions: 1}, p.Stats())
}

func TestPool_Close(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	idle, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	held, err := p.Acquire(ctx, testKey)
	require.NoError(t, err)
	idle.Release()

	require.NoError(t, p.Close())
	_, err = p.Acquire(ctx, testKey)
	assert.ErrorIs(t, err, ErrPoolClosed)

	held.Release()
	s := p.Stats()
	assert.Equal(t, int64(0), s.PooledConnections)
	assert.Zero(t, s.Evictions)
}

func TestPool_RunSweeps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	p, _, clk := newTestPool(t, cfg)

	c, err := p.Acquire(context.Background(), testKey)
	require.NoError(t, err)
	c.Release()
	clk.Advance(cfg.IdleTimeout + time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return p.Stats().Evictions == 1
	}, time.Second, 5*time.Millisecond)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "http1+tls://api.example.com:443", testKey.String())
	assert.Equal(t, "[::1]:80", Key{Host: "::1", Port: 80}.Addr())
}
