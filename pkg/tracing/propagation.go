package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"

	"github.com/getmockd/polyd/pkg/http1"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/web"
)

// Propagator reads and writes W3C traceparent and tracestate headers.
var Propagator propagation.TextMapPropagator = propagation.TraceContext{}

// Extract returns ctx with the remote span context found in h, if any.
func Extract(ctx context.Context, h http.Header) context.Context {
	return Propagator.Extract(ctx, propagation.HeaderCarrier(h))
}

// Inject writes the span context of ctx into h.
func Inject(ctx context.Context, h http.Header) {
	Propagator.Inject(ctx, propagation.HeaderCarrier(h))
}

// ServerMiddleware continues the trace of an inbound request.
func ServerMiddleware() web.Middleware {
	return middleware.MiddlewareFunc[*web.Context](func(ctx context.Context, c *web.Context, next middleware.Next[*web.Context]) *web.Context {
		return next(Extract(ctx, c.Request.Header), c)
	})
}

// ClientMiddleware propagates the current trace on outbound requests
// that already carry a Request.
func ClientMiddleware() middleware.Middleware[*http1.ClientContext] {
	return middleware.MiddlewareFunc[*http1.ClientContext](func(ctx context.Context, c *http1.ClientContext, next middleware.Next[*http1.ClientContext]) *http1.ClientContext {
		if c.Request != nil {
			if c.Request.Header == nil {
				c.Request.Header = make(http.Header)
			}
			Inject(ctx, c.Request.Header)
		}
		return next(ctx, c)
	})
}
