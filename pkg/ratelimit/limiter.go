package ratelimit

import (
	"math"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default limiter values.
const (
	DefaultRate            = 100
	DefaultCleanupInterval = time.Minute
	DefaultEntryTTL        = time.Minute
)

// Config configures a Limiter.
type Config struct {
	Rate            float64       // tokens per second
	Burst           int           // bucket capacity, 2*Rate when zero
	CleanupInterval time.Duration // sweep period
	EntryTTL        time.Duration // idle time before an entry is dropped
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-IP token bucket limiter. It is safe for concurrent use.
type Limiter struct {
	limit    rate.Limit
	burst    int
	interval time.Duration
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	rps := cfg.Rate
	if rps <= 0 {
		rps = DefaultRate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(rps * 2))
	}
	l := &Limiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		interval: cfg.CleanupInterval,
		ttl:      cfg.EntryTTL,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if l.interval <= 0 {
		l.interval = DefaultCleanupInterval
	}
	if l.ttl <= 0 {
		l.ttl = DefaultEntryTTL
	}
	go l.cleanup()
	return l
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int { return l.burst }

// Allow reports whether ip may proceed now, consuming a token if so.
func (l *Limiter) Allow(ip string) bool {
	now := time.Now()
	return l.get(ip, now).AllowN(now, 1)
}

// Reserve consumes a token for ip if one is available. Otherwise it
// consumes nothing and returns how long until a token frees up.
func (l *Limiter) Reserve(ip string) (allowed bool, retryAfter time.Duration) {
	now := time.Now()
	r := l.get(ip, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Tokens returns the tokens currently available to ip.
func (l *Limiter) Tokens(ip string) float64 {
	now := time.Now()
	return l.get(ip, now).TokensAt(now)
}

// AllowAddr is Allow keyed on the host of addr.
func (l *Limiter) AllowAddr(addr net.Addr) bool {
	return l.Allow(HostOf(addr))
}

// Len returns the number of tracked IPs.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}

func (l *Limiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *Limiter) cleanup() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.sweep(now)
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops entries not seen since now minus the TTL.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
		}
	}
}

// HostOf returns the IP of addr without its port. Addresses that do not
// parse are returned whole.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	return hostOfString(addr.String())
}

func hostOfString(s string) string {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
