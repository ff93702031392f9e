package ratelimit

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/polyd/pkg/web"
)

func newLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	return l
}

func TestNew_Defaults(t *testing.T) {
	l := newLimiter(t, Config{})
	assert.Equal(t, 200, l.Burst())
	assert.Equal(t, DefaultCleanupInterval, l.interval)
	assert.Equal(t, DefaultEntryTTL, l.ttl)

	l = newLimiter(t, Config{Rate: 0.5})
	assert.Equal(t, 1, l.Burst())
}

func TestLimiter_AllowExhausts(t *testing.T) {
	l := newLimiter(t, Config{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("10.0.0.1"), "allow #%d", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "other IPs have their own bucket")
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_ReserveReportsRetry(t *testing.T) {
	l := newLimiter(t, Config{Rate: 1, Burst: 1})

	ok, retry := l.Reserve("10.0.0.1")
	assert.True(t, ok)
	assert.Zero(t, retry)

	ok, retry = l.Reserve("10.0.0.1")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Second)

	// A rejected reservation gives its token back.
	assert.Less(t, l.Tokens("10.0.0.1"), 1.0)
	assert.Greater(t, l.Tokens("10.0.0.1"), -0.5)
}

func TestLimiter_SweepDropsIdleEntries(t *testing.T) {
	l := newLimiter(t, Config{Rate: 10, EntryTTL: time.Minute})
	l.Allow("10.0.0.1")
	require.Equal(t, 1, l.Len())

	l.sweep(time.Now())
	assert.Equal(t, 1, l.Len())

	l.sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, l.Len())
}

func TestLimiter_StopTwice(t *testing.T) {
	l := New(Config{})
	l.Stop()
	l.Stop()
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "127.0.0.1", HostOf(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80}))
	assert.Equal(t, "::1", HostOf(&net.UDPAddr{IP: net.IPv6loopback, Port: 443}))
	assert.Equal(t, "", HostOf(nil))
	assert.Equal(t, "10.1.2.3", hostOfString("10.1.2.3:9000"))
	assert.Equal(t, "10.1.2.3", hostOfString("[::ffff:10.1.2.3]:9000"))
	assert.Equal(t, "localhost", hostOfString("localhost:80"))
	assert.Equal(t, "pipe", hostOfString("pipe"))
}

func TestMiddleware(t *testing.T) {
	l := newLimiter(t, Config{Rate: 1, Burst: 1})
	svc := web.NewService()
	svc.Use(Middleware(l))
	require.NoError(t, svc.HandleFunc(http.MethodGet, "/", func(_ context.Context, c *web.Context) *web.Context {
		return c.Text(http.StatusOK, "ok")
	}))

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddleware_NilLimiter(t *testing.T) {
	svc := web.NewService()
	svc.Use(Middleware(nil))
	require.NoError(t, svc.HandleFunc(http.MethodGet, "/", func(_ context.Context, c *web.Context) *web.Context {
		return c.Text(http.StatusOK, "ok")
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
