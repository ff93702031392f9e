package pool

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/getmockd/polyd/pkg/protocol"
)

// Dialer opens TCP connections and, for TLS keys, completes the handshake.
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	TLSConfig *tls.Config
	Resolver  *net.Resolver
}

// alpn maps pool protocol names to ALPN identifiers.
var alpn = map[string][]string{
	"http1":     {"http/1.1"},
	"http2":     {"h2"},
	"grpc":      {"h2"},
	"ws":        {"http/1.1"},
	"websocket": {"http/1.1"},
}

// Dial implements DialFunc. Failures are tagged with a protocol.Kind.
func (d *Dialer) Dial(ctx context.Context, key Key) (net.Conn, error) {
	nd := &net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
		Resolver:  d.Resolver,
	}
	conn, err := nd.DialContext(ctx, "tcp", key.Addr())
	if err != nil {
		return nil, protocol.Classify(err)
	}
	if !key.TLS {
		return conn, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = key.Host
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = alpn[key.Protocol]
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		if protocol.KindOf(err) == protocol.KindTimeout {
			return nil, protocol.Wrap(protocol.KindTimeout, err)
		}
		return nil, protocol.Wrap(protocol.KindTLS, err)
	}
	return tc, nil
}
