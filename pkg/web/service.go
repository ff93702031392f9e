package web

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/route"
)

// Middleware is a middleware over the HTTP context.
type Middleware = middleware.Middleware[*Context]

// Handler is a terminal handler over the HTTP context.
type Handler = middleware.Handler[*Context]

// HandlerFunc adapts a function to Handler.
type HandlerFunc = middleware.HandlerFunc[*Context]

// Endpoint is one method of a route.
type Endpoint struct {
	Method      string
	Route       string
	Handler     Handler
	Middlewares []Middleware

	chain *middleware.Chain[*Context]
}

// routeEntry holds the endpoints registered under one route string. The
// "" method matches any method.
type routeEntry struct {
	route    string
	byMethod map[string]*Endpoint
}

func (e *routeEntry) allowed() string {
	methods := make([]string, 0, len(e.byMethod))
	for m := range e.byMethod {
		if m != "" {
			methods = append(methods, m)
		}
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}

// Service routes HTTP contexts to endpoints. It is safe for concurrent
// use once endpoints are registered.
type Service struct {
	router  *route.Router[*routeEntry]
	log     *slog.Logger
	maxBody int64

	mu        sync.RWMutex
	mws       []Middleware
	entries   map[string]*routeEntry
	endpoints []*Endpoint
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

// WithMaxBody sets the request body limit used by ServeHTTP.
func WithMaxBody(n int64) ServiceOption {
	return func(s *Service) { s.maxBody = n }
}

// WithMiddleware adds service-level middlewares.
func WithMiddleware(mws ...Middleware) ServiceOption {
	return func(s *Service) { s.mws = append(s.mws, mws...) }
}

// NewService creates an empty service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		router:  route.NewRouter[*routeEntry](),
		log:     logging.Nop(),
		maxBody: protocol.DefaultMaxBodyBytes,
		entries: make(map[string]*routeEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use appends service-level middlewares. They run before endpoint
// middlewares on every endpoint, including ones already registered.
func (s *Service) Use(mws ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mws = append(s.mws, mws...)
	for _, ep := range s.endpoints {
		ep.chain = middleware.Build(middleware.Concat(s.mws, ep.Middlewares), ep.Handler)
	}
}

// Handle registers h for method on route. An empty method matches any
// method not registered explicitly.
func (s *Service) Handle(method, pattern string, h Handler, mws ...Middleware) error {
	patterns, names, err := route.Parse(pattern)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := canonical(patterns)
	entry, ok := s.entries[key]
	if !ok {
		entry = &routeEntry{route: pattern, byMethod: make(map[string]*Endpoint)}
	}
	ep := &Endpoint{
		Method:      strings.ToUpper(method),
		Route:       pattern,
		Handler:     h,
		Middlewares: mws,
	}
	ep.chain = middleware.Build(middleware.Concat(s.mws, mws), h)
	entry.byMethod[ep.Method] = ep

	if err := s.router.Insert(pattern, patterns, names, entry); err != nil {
		return err
	}
	s.entries[key] = entry
	s.endpoints = append(s.endpoints, ep)
	return nil
}

// HandleFunc registers a function endpoint.
func (s *Service) HandleFunc(method, pattern string, fn func(ctx context.Context, c *Context) *Context, mws ...Middleware) error {
	return s.Handle(method, pattern, HandlerFunc(fn), mws...)
}

// Serve routes c and runs the matched endpoint chain.
func (s *Service) Serve(ctx context.Context, c *Context) *Context {
	m, ok := s.router.Lookup(c.Request.URL.Path)
	if !ok {
		c.Text(http.StatusNotFound, "404 page not found")
		return c
	}

	s.mu.RLock()
	entry := m.Value
	ep, found := entry.byMethod[c.Request.Method]
	if !found && c.Request.Method == http.MethodHead {
		ep, found = entry.byMethod[http.MethodGet]
	}
	if !found {
		ep, found = entry.byMethod[""]
	}
	var chain *middleware.Chain[*Context]
	if found {
		chain = ep.chain
	}
	allow := entry.allowed()
	s.mu.RUnlock()

	c.Route = entry.route
	if !found {
		c.Response.Header.Set("Allow", allow)
		c.HandleError(protocol.Errorf(protocol.KindMethodNotAllowed, "%s %s", c.Request.Method, c.Request.URL.Path))
		return c
	}

	c.Extensions().SetParams(m.Params)
	return chain.Run(ctx, c)
}

// ServeHTTP adapts the service to net/http.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	c := NewContext(r)
	c.SetMaxBody(s.maxBody)
	c = s.Serve(r.Context(), c)
	c.Response.WriteTo(w)
}

// MaxBody returns the request body limit.
func (s *Service) MaxBody() int64 { return s.maxBody }

// Log returns the service logger.
func (s *Service) Log() *slog.Logger { return s.log }

// canonical identifies routes with equal patterns regardless of names.
func canonical(patterns []route.Pattern) string {
	var sb strings.Builder
	for _, p := range patterns {
		sb.WriteByte('/')
		sb.WriteString(p.String())
	}
	return sb.String()
}
