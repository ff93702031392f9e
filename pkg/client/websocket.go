package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getmockd/polyd/pkg/pool"
	"github.com/getmockd/polyd/pkg/protocol"
)

// DefaultHandshakeTimeout bounds DialWebSocket's opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// DialWebSocket opens a WebSocket to a ws or wss URL over a connection
// drawn from p. The connection leaves the pool for good: closing the
// returned socket releases it as broken.
func DialWebSocket(ctx context.Context, p *pool.Pool, rawURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t, err := ParseTarget(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if t.Scheme != "ws" && t.Scheme != "wss" {
		return nil, nil, protocol.Errorf(protocol.KindBadRequest, "scheme %q is not WebSocket", t.Scheme)
	}

	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		c, err := p.Acquire(ctx, t.Key(string(protocol.IDWebSocket)))
		if err != nil {
			return nil, err
		}
		// An upgraded connection never goes back to the free set.
		c.MarkBroken()
		return c, nil
	}
	d := websocket.Dialer{
		NetDialContext:    dial,
		NetDialTLSContext: dial,
		HandshakeTimeout:  DefaultHandshakeTimeout,
	}

	conn, resp, err := d.DialContext(ctx, t.URL(), header)
	if err != nil {
		if resp != nil {
			return nil, resp, protocol.Wrap(protocol.KindBadRequest, err)
		}
		return nil, nil, protocol.Classify(err)
	}
	return conn, resp, nil
}
