package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/polyd/pkg/http3"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

// DefaultShutdownTimeout bounds graceful drain when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Shutdowner is implemented by protocols holding state beyond a single
// connection, such as an HTTP/2 server or an MQTT broker.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Admitter decides whether a freshly accepted connection is served.
type Admitter interface {
	AllowAddr(addr net.Addr) bool
}

// Server accepts connections and serves them through a dispatcher.
type Server struct {
	dispatcher      *protocol.Dispatcher
	log             *slog.Logger
	tlsConfig       *tls.Config
	http3           *http3.Server
	metricsAddr     string
	metricsHandler  http.Handler
	shutdownTimeout time.Duration
	admit           Admitter

	// connCtx is handed to every connection; cancelConns ends them.
	connCtx     context.Context
	cancelConns context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	metricsSrv *http.Server
	conns      map[net.Conn]struct{}
	wg         sync.WaitGroup
	ready      chan struct{}
	closed     chan struct{}
	closing    atomic.Bool
	shutdown   sync.Once
	stopErr    error
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

// WithTLSConfig terminates TLS on accepted connections before detection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithHTTP3 runs h3 alongside the TCP listener.
func WithHTTP3(h3 *http3.Server) Option {
	return func(s *Server) { s.http3 = h3 }
}

// WithMetrics serves handler at /metrics on addr.
func WithMetrics(addr string, handler http.Handler) Option {
	return func(s *Server) {
		s.metricsAddr = addr
		s.metricsHandler = handler
	}
}

// WithShutdownTimeout bounds graceful drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithConnectionLimiter drops connections a refuses before detection.
func WithConnectionLimiter(a Admitter) Option {
	return func(s *Server) { s.admit = a }
}

// New creates a server for d.
func New(d *protocol.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher:      d,
		log:             logging.Nop(),
		shutdownTimeout: DefaultShutdownTimeout,
		conns:           make(map[net.Conn]struct{}),
		ready:           make(chan struct{}),
		closed:          make(chan struct{}),
	}
	s.connCtx, s.cancelConns = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the TCP listener is accepting.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on addr and serves until ctx is done or Shutdown
// is called. The HTTP/3 and metrics listeners run in the same group; the
// first to fail stops the rest.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, protocol.Classify(err))
	}

	var metricsLn net.Listener
	if s.metricsAddr != "" {
		metricsLn, err = net.Listen("tcp", s.metricsAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen metrics %s: %w", s.metricsAddr, protocol.Classify(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.Serve(gctx, ln)
		if errors.Is(err, ErrServerClosed) {
			return nil
		}
		return err
	})

	if s.http3 != nil {
		// Stopped by Shutdown, which drains it before connCtx ends.
		g.Go(func() error {
			return s.http3.ListenAndServe(s.connCtx)
		})
	}

	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metricsHandler)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.mu.Lock()
		s.metricsSrv = srv
		s.mu.Unlock()
		g.Go(func() error {
			s.log.Info("metrics listening", "addr", metricsLn.Addr().String())
			if err := srv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.closed:
		}
		sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// Serve accepts connections on ln until ctx is done or Shutdown is
// called, then returns ErrServerClosed. Connections in flight keep
// running; Shutdown waits for them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil,
		"protocols", len(s.dispatcher.Registry().List()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: time.Second}
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			var te interface{ Temporary() bool }
			if errors.As(err, &te) && te.Temporary() {
				d := b.Duration()
				s.log.Warn("accept failed, retrying", "error", err, "delay", d)
				select {
				case <-time.After(d):
					continue
				case <-ctx.Done():
					return ErrServerClosed
				}
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return protocol.Wrap(protocol.KindIo, err)
		}
		b.Reset()

		if s.admit != nil && !s.admit.AllowAddr(nc.RemoteAddr()) {
			s.log.Debug("connection rate limited", "remote", nc.RemoteAddr().String())
			_ = nc.Close()
			continue
		}
		if !s.track(nc) {
			_ = nc.Close()
			continue
		}
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer s.untrack(nc)

	remote := nc.RemoteAddr().String()
	err := s.dispatcher.Serve(s.connCtx, nc)
	protocol.LogOutcome(s.log, remote, err)
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[nc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, drains protocols implementing Shutdowner and
// ends every connection. Connections still open when ctx ends are closed.
// Calls after the first return the first call's result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() { s.stopErr = s.stop(ctx) })
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	close(s.closed)
	ln := s.listener
	metricsSrv := s.metricsSrv
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("listener close: %w", err))
		}
	}

	for _, p := range s.dispatcher.Registry().List() {
		sd, ok := p.(Shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", p.ID(), err))
		}
	}

	if s.http3 != nil {
		if err := s.http3.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("http3 shutdown: %w", err))
		}
	}

	// Idle keep-alive connections wait on this context.
	s.cancelConns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		n := len(s.conns)
		for nc := range s.conns {
			_ = nc.Close()
		}
		s.mu.Unlock()
		s.log.Warn("shutdown timeout, closed connections", "count", n)
		<-done
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	s.log.Info("server stopped")
	return errors.Join(errs...)
}
