package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	ws "github.com/coder/websocket"
	"golang.org/x/net/http/httpguts"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/route"
	"github.com/getmockd/polyd/pkg/web"
)

// Middleware intercepts received messages.
type Middleware = middleware.Middleware[*Context]

// Handler handles a received message.
type Handler = middleware.Handler[*Context]

// HandlerFunc adapts a function to Handler.
type HandlerFunc = middleware.HandlerFunc[*Context]

type endpoint struct {
	route   string
	handler Handler
	mws     []Middleware
	chain   *middleware.Chain[*Context]
}

// Service routes WebSocket connections by handshake path.
type Service struct {
	router       *route.Router[*endpoint]
	log          *slog.Logger
	subprotocols []string
	origins      []string
	readLimit    int64

	mu        sync.RWMutex
	mws       []Middleware
	endpoints []*endpoint
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMiddleware adds service-level middlewares.
func WithMiddleware(mws ...Middleware) ServiceOption {
	return func(s *Service) { s.mws = append(s.mws, mws...) }
}

// WithSubprotocols sets the subprotocols offered during the handshake.
func WithSubprotocols(protos ...string) ServiceOption {
	return func(s *Service) { s.subprotocols = protos }
}

// WithOriginPatterns allows cross-origin handshakes from hosts matching
// the patterns.
func WithOriginPatterns(patterns ...string) ServiceOption {
	return func(s *Service) { s.origins = patterns }
}

// WithReadLimit bounds received messages. Zero uses the application's
// max body size.
func WithReadLimit(n int64) ServiceOption {
	return func(s *Service) { s.readLimit = n }
}

// NewService creates an empty service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		router: route.NewRouter[*endpoint](),
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for connections whose handshake path matches
// pattern.
func (s *Service) Handle(pattern string, h Handler, mws ...Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep := &endpoint{route: pattern, handler: h, mws: mws}
	ep.chain = middleware.Build(middleware.Concat(s.mws, mws), h)
	if err := s.router.Handle(pattern, ep); err != nil {
		return err
	}
	s.endpoints = append(s.endpoints, ep)
	return nil
}

// HandleFunc registers a function handler.
func (s *Service) HandleFunc(pattern string, fn func(ctx context.Context, c *Context) *Context, mws ...Middleware) error {
	return s.Handle(pattern, HandlerFunc(fn), mws...)
}

// Use appends service-level middlewares to every endpoint.
func (s *Service) Use(mws ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mws = append(s.mws, mws...)
	for _, ep := range s.endpoints {
		ep.chain = middleware.Build(middleware.Concat(s.mws, ep.mws), ep.handler)
	}
}

func (s *Service) lookup(path string) (*endpoint, map[string]string, *middleware.Chain[*Context], bool) {
	m, ok := s.router.Lookup(path)
	if !ok {
		return nil, nil, nil, false
	}
	s.mu.RLock()
	chain := m.Value.chain
	s.mu.RUnlock()
	return m.Value, m.Params, chain, true
}

// Upgrade is a web handler accepting WebSocket handshakes for paths the
// service handles. Other requests get 426 or 404.
func (s *Service) Upgrade(_ context.Context, c *web.Context) *web.Context {
	if !IsUpgrade(c.Request) {
		c.Response.Header.Set("Upgrade", "websocket")
		c.Response.Header.Set("Connection", "Upgrade")
		return c.Text(http.StatusUpgradeRequired, "websocket upgrade required")
	}
	if _, _, _, ok := s.lookup(c.Request.URL.Path); !ok {
		return c.Text(http.StatusNotFound, "no websocket endpoint")
	}
	c.SwitchProtocol(protocol.IDWebSocket)
	return c
}

func (s *Service) acceptOptions() *ws.AcceptOptions {
	return &ws.AcceptOptions{
		Subprotocols:    s.subprotocols,
		OriginPatterns:  s.origins,
		CompressionMode: ws.CompressionDisabled,
	}
}

// IsUpgrade reports whether r is a WebSocket handshake request.
func IsUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") &&
		httpguts.HeaderValuesContainsToken(r.Header["Upgrade"], "websocket")
}
