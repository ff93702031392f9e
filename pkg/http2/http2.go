package http2

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/getmockd/polyd/pkg/http1"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

var preface = []byte(http2.ClientPreface)

// Detect reports whether initial starts with the HTTP/2 client preface.
func Detect(initial []byte) bool {
	return len(initial) >= len(preface) && bytes.Equal(initial[:len(preface)], preface)
}

// Protocol serves HTTP/2 connections.
type Protocol struct {
	handler http.Handler
	h2      *http2.Server
	base    *http.Server
	log     *slog.Logger
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

// WithMaxConcurrentStreams bounds concurrent streams per connection.
func WithMaxConcurrentStreams(n uint32) Option {
	return func(p *Protocol) { p.h2.MaxConcurrentStreams = n }
}

// WithIdleTimeout closes connections without active streams after d.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.h2.IdleTimeout = d }
}

// New creates the HTTP/2 protocol serving handler.
func New(handler http.Handler, opts ...Option) *Protocol {
	p := &Protocol{
		handler: handler,
		h2:      &http2.Server{},
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.base = &http.Server{Handler: handler, ErrorLog: slog.NewLogLogger(p.log.Handler(), slog.LevelDebug)}
	// Registers graceful shutdown of served connections with base.
	if err := http2.ConfigureServer(p.base, p.h2); err != nil {
		p.log.Warn("failed to configure http2 server", "error", err)
	}
	return p
}

// ID implements protocol.Protocol.
func (p *Protocol) ID() protocol.ID { return protocol.IDHTTP2 }

// Role implements protocol.Protocol.
func (p *Protocol) Role() protocol.Role { return protocol.RoleServer }

// Detect implements protocol.Protocol.
func (p *Protocol) Detect(initial []byte) bool { return Detect(initial) }

// Handle implements protocol.Protocol. It blocks until the HTTP/2
// connection ends; cancelling ctx closes it.
func (p *Protocol) Handle(ctx context.Context, conn *protocol.Conn, app *protocol.App) (protocol.Status, error) {
	opts := &http2.ServeConnOpts{
		Context:    ctx,
		BaseConfig: p.base,
		Handler:    p.handler,
	}
	if up, ok := conn.Handoff().(*http1.Upgrade); ok {
		opts.UpgradeRequest = up.Request
		opts.Settings = up.Settings
	}
	if app.MaxBodyBytes > 0 {
		opts.Handler = http.MaxBytesHandler(p.handler, app.MaxBodyBytes)
	}
	_ = conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { _ = conn.Conn.Close() })
	defer stop()

	p.h2.ServeConn(conn, opts)
	conn.FramePassed()
	return protocol.Stopped, nil
}

// Shutdown sends GOAWAY to every connection being served and waits for
// their streams to finish or ctx to end.
func (p *Protocol) Shutdown(ctx context.Context) error {
	return p.base.Shutdown(ctx)
}
