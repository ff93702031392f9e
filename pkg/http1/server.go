package http1

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/web"
)

// Upgrade is the handoff left for HTTP/2 after an h2c upgrade.
type Upgrade struct {
	Request *http.Request
	// Settings is the decoded HTTP2-Settings payload.
	Settings []byte
}

// Protocol serves HTTP/1.x connections.
type Protocol struct {
	service *web.Service
	log     *slog.Logger
	h2c     bool
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Protocol) {
		if log != nil {
			p.log = log
		}
	}
}

// WithH2C accepts "Upgrade: h2c" requests by switching to HTTP/2. HTTP/2
// must be registered with the dispatcher.
func WithH2C(enabled bool) Option {
	return func(p *Protocol) { p.h2c = enabled }
}

// New creates the HTTP/1 protocol serving svc.
func New(svc *web.Service, opts ...Option) *Protocol {
	p := &Protocol{service: svc, log: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID implements protocol.Protocol.
func (p *Protocol) ID() protocol.ID { return protocol.IDHTTP1 }

// Role implements protocol.Protocol.
func (p *Protocol) Role() protocol.Role { return protocol.RoleServer }

// Detect implements protocol.Protocol.
func (p *Protocol) Detect(initial []byte) bool { return Detect(initial) }

// Handle implements protocol.Protocol. It serves requests until the peer
// closes, a request asks to close, the connection idles past the
// connection timeout, ctx is done, or a request switches protocols.
func (p *Protocol) Handle(ctx context.Context, conn *protocol.Conn, app *protocol.App) (protocol.Status, error) {
	for {
		if err := waitRequest(ctx, conn, app.ConnectionTimeout); err != nil {
			if protocol.IsClosed(err) || protocol.KindOf(err) == protocol.KindTimeout || ctx.Err() != nil {
				return protocol.Stopped, nil
			}
			return protocol.Stopped, err
		}

		if app.FrameTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(app.FrameTimeout))
		}
		req, err := http.ReadRequest(conn.Reader())
		if err != nil {
			if protocol.IsClosed(err) {
				return protocol.Stopped, nil
			}
			if protocol.KindOf(err) == protocol.KindTimeout {
				writeStatus(conn, http.StatusRequestTimeout)
				return protocol.Stopped, protocol.Classify(err)
			}
			writeStatus(conn, http.StatusBadRequest)
			return protocol.Stopped, protocol.Wrap(protocol.KindMalformedFrame, err)
		}

		status, keepAlive, err := p.serve(ctx, conn, app, req)
		if err != nil {
			return protocol.Stopped, err
		}
		if _, ok := status.ShouldSwitch(); ok {
			_ = conn.SetReadDeadline(time.Time{})
			return status, nil
		}
		conn.FramePassed()
		if !keepAlive {
			return protocol.Stopped, nil
		}
	}
}

// waitRequest blocks until the first byte of the next request arrives.
func waitRequest(ctx context.Context, conn *protocol.Conn, idle time.Duration) error {
	if idle > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, err := conn.Peek(1)
	return err
}

func (p *Protocol) serve(ctx context.Context, conn *protocol.Conn, app *protocol.App, req *http.Request) (protocol.Status, bool, error) {
	req = req.WithContext(ctx)
	req.RemoteAddr = conn.RemoteAddr().String()
	if tc, ok := conn.Conn.(*tls.Conn); ok {
		state := tc.ConnectionState()
		req.TLS = &state
	}

	if req.ProtoMajor != 1 {
		writeStatus(conn, http.StatusHTTPVersionNotSupported)
		return protocol.Stopped, false, protocol.Errorf(protocol.KindUnsupportedVersion, "%s", req.Proto)
	}

	if p.h2c && isH2CUpgrade(req) {
		status, err := p.upgradeH2C(conn, req)
		return status, false, err
	}

	limit := p.service.MaxBody()
	if limit <= 0 {
		limit = app.MaxBodyBytes
	}
	c := web.NewContext(req)
	c.SetMaxBody(limit)
	c = p.service.Serve(ctx, c)

	if target, ok := c.SwitchTarget(); ok {
		// Handshake responses other than 101 are written by the target.
		if c.Response.Status == http.StatusSwitchingProtocols {
			if err := c.Response.HTTPResponse(req).Write(conn.Writer()); err != nil {
				return protocol.Stopped, false, protocol.Classify(err)
			}
		}
		conn.SetHandoff(req)
		p.log.Debug("switching protocol", "conn", conn.ID(), "to", target)
		return protocol.SwitchProtocol(target), false, nil
	}

	resp := c.Response.HTTPResponse(req)
	keepAlive := !req.Close && !resp.Close && !hasToken(resp.Header, "Connection", "close")
	if err := drain(req.Body, limit); err != nil {
		keepAlive = false
	}
	resp.Close = !keepAlive
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	if err := resp.Write(conn.Writer()); err != nil {
		return protocol.Stopped, false, protocol.Classify(err)
	}
	if err := conn.Flush(); err != nil {
		return protocol.Stopped, false, protocol.Classify(err)
	}
	return protocol.Connected, keepAlive, nil
}

func (p *Protocol) upgradeH2C(conn *protocol.Conn, req *http.Request) (protocol.Status, error) {
	settings, err := decodeSettings(req.Header.Get("HTTP2-Settings"))
	if err != nil {
		writeStatus(conn, http.StatusBadRequest)
		return protocol.Stopped, protocol.Wrap(protocol.KindBadRequest, err)
	}

	const switching = "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"
	if _, err := conn.Writer().WriteString(switching); err != nil {
		return protocol.Stopped, protocol.Classify(err)
	}
	// The request continues as stream 1 of the HTTP/2 connection.
	req.Header.Del("Upgrade")
	req.Header.Del("HTTP2-Settings")
	req.Header.Del("Connection")
	req.Proto, req.ProtoMajor, req.ProtoMinor = "HTTP/2.0", 2, 0
	conn.SetHandoff(&Upgrade{Request: req, Settings: settings})
	return protocol.SwitchProtocol(protocol.IDHTTP2), nil
}

// isH2CUpgrade reports whether req asks for an h2c upgrade without a body.
func isH2CUpgrade(req *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(req.Header["Upgrade"], "h2c") &&
		httpguts.HeaderValuesContainsToken(req.Header["Connection"], "HTTP2-Settings") &&
		len(req.Header["Http2-Settings"]) == 1 &&
		req.ContentLength == 0 && len(req.TransferEncoding) == 0
}

func decodeSettings(v string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
}

func hasToken(h http.Header, name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h[name], token)
}

// drain discards what the handler left of the body. Bodies larger than
// limit are not drained and the connection must close.
func drain(body io.ReadCloser, limit int64) error {
	if body == nil || body == http.NoBody {
		return nil
	}
	defer body.Close()
	if limit <= 0 {
		limit = protocol.DefaultMaxBodyBytes
	}
	n, err := io.Copy(io.Discard, io.LimitReader(body, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return protocol.Errorf(protocol.KindPayloadTooLarge, "unread body exceeds %d bytes", limit)
	}
	return nil
}

func writeStatus(conn *protocol.Conn, code int) {
	_ = writeSimple(conn.Writer(), code, http.StatusText(code))
	_ = conn.Flush()
}

func writeSimple(w *bufio.Writer, code int, text string) error {
	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(text)),
		ContentLength: int64(len(text)),
		Close:         true,
	}
	return resp.Write(w)
}
