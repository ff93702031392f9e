package grpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

// ContentType is the media type of gRPC requests.
const ContentType = "application/grpc"

// ErrInvalidMethod is returned for method names not of the form
// "/service/method".
var ErrInvalidMethod = errors.New("grpc: method must look like /package.Service/Method")

type method struct {
	handler Handler
	mws     []Middleware
	chain   *middleware.Chain[*Context]
}

// Service dispatches unary calls by full method name.
type Service struct {
	log    *slog.Logger
	maxMsg int

	mu      sync.RWMutex
	mws     []Middleware
	methods map[string]*method
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

// WithMaxMessageSize bounds request messages.
func WithMaxMessageSize(n int) ServiceOption {
	return func(s *Service) { s.maxMsg = n }
}

// WithMiddleware adds service-level middlewares.
func WithMiddleware(mws ...Middleware) ServiceOption {
	return func(s *Service) { s.mws = append(s.mws, mws...) }
}

// NewService creates an empty service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		log:     logging.Nop(),
		maxMsg:  DefaultMaxMessageSize,
		methods: make(map[string]*method),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for fullMethod, replacing any previous handler.
func (s *Service) Handle(fullMethod string, h Handler, mws ...Middleware) error {
	svc, name := splitMethod(fullMethod)
	if !strings.HasPrefix(fullMethod, "/") || svc == "" || name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, fullMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := &method{handler: h, mws: mws}
	m.chain = middleware.Build(middleware.Concat(s.mws, mws), h)
	s.methods[fullMethod] = m
	return nil
}

// Use appends service-level middlewares to every method.
func (s *Service) Use(mws ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mws = append(s.mws, mws...)
	for _, m := range s.methods {
		m.chain = middleware.Build(middleware.Concat(s.mws, m.mws), m.handler)
	}
}

// Methods returns the registered method names, sorted.
func (s *Service) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.methods))
	for name := range s.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call runs the chain of c.Method. Unknown methods end Unimplemented.
func (s *Service) Call(ctx context.Context, c *Context) *Context {
	s.mu.RLock()
	m, ok := s.methods[c.Method]
	s.mu.RUnlock()
	if !ok {
		c.Status = status.Newf(codes.Unimplemented, "unknown method %s", c.Method)
		return c
	}
	return m.chain.Run(ctx, c)
}

// ServeHTTP implements http.Handler for HTTP/2 requests.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ProtoMajor != 2 {
		http.Error(w, "gRPC requires HTTP/2", http.StatusHTTPVersionNotSupported)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if v := r.Header.Get("Grpc-Timeout"); v != "" {
		if d, err := parseTimeout(v); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	c := NewContext(r.URL.Path, incomingMetadata(r.Header), nil)
	payload, err := s.readRequest(r.Body)
	if err != nil {
		c.HandleError(err)
	} else {
		c.Request = payload
		c = s.Call(ctx, c)
	}
	if c.Status == nil && ctx.Err() != nil {
		c.Status = status.FromContextError(ctx.Err())
	}

	s.writeResponse(w, c)
}

func (s *Service) readRequest(body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(body, int64(s.maxMsg)+HeaderSize+1))
	if err != nil {
		return nil, protocol.Classify(err)
	}

	buf := bytes.NewBuffer(raw)
	f := &Frame{Limit: s.maxMsg}
	ok, err := f.Decode(buf)
	switch {
	case err != nil:
		return nil, err
	case !ok:
		return nil, protocol.Errorf(protocol.KindMalformedFrame, "truncated grpc frame")
	case buf.Len() > 0:
		return nil, status.Error(codes.Unimplemented, "streaming requests are not supported")
	case f.Compressed:
		return nil, status.Error(codes.Unimplemented, "compressed messages are not supported")
	}
	return f.Payload, nil
}

func (s *Service) writeResponse(w http.ResponseWriter, c *Context) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)

	if c.Status.Code() == codes.OK {
		var out bytes.Buffer
		f := &Frame{Payload: c.Response}
		if err := f.Encode(&out); err != nil {
			c.HandleError(err)
		} else if _, err := w.Write(out.Bytes()); err != nil {
			s.log.Debug("failed to write grpc response", "method", c.Method, "error", err)
			return
		}
	}

	for k, vs := range c.Trailer {
		for _, v := range vs {
			h.Add(http.TrailerPrefix+k, v)
		}
	}
	h.Set(http.TrailerPrefix+"Grpc-Status", strconv.Itoa(int(c.Status.Code())))
	if msg := c.Status.Message(); msg != "" {
		h.Set(http.TrailerPrefix+"Grpc-Message", encodeMessage(msg))
	}
	if len(c.Status.Proto().GetDetails()) > 0 {
		if b, err := proto.Marshal(c.Status.Proto()); err == nil {
			h.Set(http.TrailerPrefix+"Grpc-Status-Details-Bin", base64.RawStdEncoding.EncodeToString(b))
		}
	}
}

// IsGRPC reports whether r is a gRPC request.
func IsGRPC(r *http.Request) bool {
	return r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), ContentType)
}

// Mount serves gRPC requests with grpcHandler and everything else with
// next.
func Mount(grpcHandler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsGRPC(r) {
			grpcHandler.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserved headers are transport-level and never part of metadata.
var reserved = map[string]bool{
	"content-type":   true,
	"te":             true,
	"grpc-timeout":   true,
	"grpc-encoding":  true,
	"content-length": true,
	"user-agent":     true,
}

func incomingMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		key := strings.ToLower(k)
		if reserved[key] {
			continue
		}
		md[key] = append(md[key], vs...)
	}
	return md
}

// parseTimeout parses a grpc-timeout value such as "100m".
func parseTimeout(v string) (time.Duration, error) {
	if len(v) < 2 || len(v) > 9 {
		return 0, fmt.Errorf("invalid grpc-timeout %q", v)
	}
	n, err := strconv.ParseInt(v[:len(v)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid grpc-timeout %q", v)
	}
	var unit time.Duration
	switch v[len(v)-1] {
	case 'H':
		unit = time.Hour
	case 'M':
		unit = time.Minute
	case 'S':
		unit = time.Second
	case 'm':
		unit = time.Millisecond
	case 'u':
		unit = time.Microsecond
	case 'n':
		unit = time.Nanosecond
	default:
		return 0, fmt.Errorf("invalid grpc-timeout unit in %q", v)
	}
	return time.Duration(n) * unit, nil
}

// encodeMessage percent-encodes a grpc-message value.
func encodeMessage(msg string) string {
	var sb strings.Builder
	for i := 0; i < len(msg); i++ {
		b := msg[i]
		if b >= 0x20 && b <= 0x7e && b != '%' {
			sb.WriteByte(b)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", b)
	}
	return sb.String()
}
