// Package pool caches live client-side connections keyed by their target
// fingerprint (host, port, protocol, TLS).
//
// Acquire hands out a free connection for the key when one is still valid
// (a hit) and dials a new one otherwise (a miss). Release returns a healthy
// connection to the free set; broken, closed or expired connections are
// dropped and counted as evictions. Taking a connection off the free set and
// marking it checked out happen in one step under the pool lock, so two
// callers never share a physical connection. The lock is never held across
// network I/O.
//
//	p := pool.New(pool.DefaultConfig())
//	conn, err := p.Acquire(ctx, pool.Key{Host: "api.example.com", Port: 443, Protocol: "http1", TLS: true})
//	if err != nil {
//	    return err
//	}
//	defer conn.Release()
package pool
