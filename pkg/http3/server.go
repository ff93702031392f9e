package http3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	ptls "github.com/getmockd/polyd/pkg/tls"
	"github.com/getmockd/polyd/pkg/web"
)

// Server is an HTTP/3 listener.
type Server struct {
	srv *http3.Server
	log *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithIdleTimeout closes QUIC connections idle for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.srv.IdleTimeout = d
		s.srv.QUICConfig.MaxIdleTimeout = d
	}
}

// WithMaxBody caps request bodies.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.srv.Handler = http.MaxBytesHandler(s.srv.Handler, n)
		}
	}
}

// New creates a server for addr answering with handler. QUIC always
// uses TLS, so cert is required.
func New(addr string, handler http.Handler, cert *ptls.Certificate, opts ...Option) (*Server, error) {
	if cert == nil {
		return nil, errors.New("http3: a certificate is required")
	}
	tlsConf, err := ptls.ServerConfig(cert, ptls.ALPNHTTP3)
	if err != nil {
		return nil, fmt.Errorf("http3: %w", err)
	}
	s := &Server{
		srv: &http3.Server{
			Addr:       addr,
			Handler:    handler,
			TLSConfig:  http3.ConfigureTLSConfig(tlsConf),
			QUICConfig: &quic.Config{},
		},
		log: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, "http3")
	s.srv.Logger = s.log
	return s, nil
}

// Serve answers requests arriving on pc until the server is shut down.
// A shut down server returns nil.
func (s *Server) Serve(pc net.PacketConn) error {
	s.log.Info("http3 listening", "addr", pc.LocalAddr().String())
	err := s.srv.Serve(pc)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured UDP address and serves until
// ctx is done or the server is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http3: listen %s: %w", s.srv.Addr, err)
	}
	defer func() { _ = pc.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = s.srv.Close() })
	defer stop()
	return s.Serve(pc)
}

// Shutdown sends GOAWAY and waits for open requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close aborts every connection.
func (s *Server) Close() error {
	return s.srv.Close()
}

// AltSvc returns a middleware announcing the HTTP/3 listener on
// responses served over TCP.
func AltSvc(s *Server) web.Middleware {
	return middleware.MiddlewareFunc[*web.Context](func(ctx context.Context, c *web.Context, next middleware.Next[*web.Context]) *web.Context {
		c = next(ctx, c)
		if c.Request != nil && c.Request.ProtoMajor < 3 {
			_ = s.srv.SetQUICHeaders(c.Response.Header)
		}
		return c
	})
}
