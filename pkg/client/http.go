package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/getmockd/polyd/pkg/http1"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/pool"
	"github.com/getmockd/polyd/pkg/protocol"
)

// HTTPContext is the context type of HTTP/1 outpoints.
type HTTPContext = http1.ClientContext

// HTTPCaller sends HTTP/1 requests over pooled connections.
type HTTPCaller struct {
	pool      *pool.Pool
	maxBody   int64
	userAgent string
	mws       []middleware.Middleware[*HTTPContext]
	log       *slog.Logger
}

// HTTPOption configures an HTTPCaller.
type HTTPOption func(*HTTPCaller)

// WithMaxResponseBody bounds buffered response bodies.
func WithMaxResponseBody(n int64) HTTPOption {
	return func(h *HTTPCaller) { h.maxBody = n }
}

// WithUserAgent sets the User-Agent of requests that have none.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPCaller) { h.userAgent = ua }
}

// WithHTTPMiddleware adds middlewares run by Do.
func WithHTTPMiddleware(mws ...middleware.Middleware[*HTTPContext]) HTTPOption {
	return func(h *HTTPCaller) { h.mws = append(h.mws, mws...) }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(log *slog.Logger) HTTPOption {
	return func(h *HTTPCaller) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHTTPCaller creates a caller drawing connections from p.
func NewHTTPCaller(p *pool.Pool, opts ...HTTPOption) *HTTPCaller {
	h := &HTTPCaller{pool: p, userAgent: "polyd", log: logging.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logging.Component(h.log, "http-client")
	return h
}

// Serve implements middleware.Handler, so the caller can terminate an
// outpoint chain. The request goes to the outpoint's target and path when
// the context carries a Call, otherwise to Request.URL. A nil Request
// becomes a GET.
func (h *HTTPCaller) Serve(ctx context.Context, c *HTTPContext) *HTTPContext {
	t, err := h.target(c)
	if err != nil {
		c.HandleError(err)
		return c
	}
	if t.Scheme != "http" && t.Scheme != "https" {
		c.HandleError(protocol.Errorf(protocol.KindBadRequest, "scheme %q is not HTTP", t.Scheme))
		return c
	}

	req := c.Request
	if req == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, t.URL(), nil)
		if err != nil {
			c.HandleError(protocol.Wrap(protocol.KindBadRequest, err))
			return c
		}
		c.Request = req
	} else {
		u, err := req.URL.Parse(t.URL())
		if err != nil {
			c.HandleError(protocol.Wrap(protocol.KindBadRequest, err))
			return c
		}
		req.URL = u
	}
	req.Host = t.Authority()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("User-Agent") == "" && h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	conn, err := h.pool.Acquire(ctx, t.Key(string(protocol.IDHTTP1)))
	if err != nil {
		c.HandleError(err)
		return c
	}
	maxBody := c.MaxBody
	if maxBody <= 0 {
		maxBody = h.maxBody
	}
	resp, body, reusable, err := http1.Send(ctx, conn, req, maxBody)
	if err != nil || !reusable {
		conn.MarkBroken()
	}
	conn.Release()
	if err != nil {
		h.log.Debug("request failed", "url", t.URL(), "error", err)
		c.HandleError(err)
		return c
	}
	c.Response, c.Body = resp, body
	return c
}

func (h *HTTPCaller) target(c *HTTPContext) (Target, error) {
	if call, ok := CallOf(c); ok && call.Target != nil {
		t := *call.Target
		if call.Path != "" {
			t = t.WithPath(call.Path)
		}
		return t, nil
	}
	if c.Request == nil || c.Request.URL == nil {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "request has no target")
	}
	return ParseTarget(c.Request.URL.String())
}

// Do sends a single request through the caller's middlewares.
func (h *HTTPCaller) Do(ctx context.Context, method, rawURL string, body []byte) (*HTTPContext, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindBadRequest, err)
	}
	c := middleware.Run(ctx, h.mws, middleware.Handler[*HTTPContext](h), http1.NewClientContext(req))
	return c, c.Err()
}
