package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getmockd/polyd/pkg/protocol"
)

// Describer is implemented by contexts that can describe themselves for
// logs and spans.
type Describer interface {
	LogAttrs() []slog.Attr
}

// Failer is implemented by contexts that record an error outcome.
type Failer interface {
	Err() error
}

// Logging logs every run at debug level, and failed runs at warn level.
func Logging[C protocol.RequestContext](log *slog.Logger) Middleware[C] {
	return MiddlewareFunc[C](func(ctx context.Context, c C, next Next[C]) C {
		start := time.Now()
		c = next(ctx, c)

		attrs := []slog.Attr{
			slog.String("role", c.Role().String()),
			slog.Duration("duration", time.Since(start)),
		}
		if d, ok := any(c).(Describer); ok {
			attrs = append(attrs, d.LogAttrs()...)
		}
		if f, ok := any(c).(Failer); ok && f.Err() != nil {
			attrs = append(attrs, slog.String("error", f.Err().Error()))
			log.LogAttrs(ctx, slog.LevelWarn, "request failed", attrs...)
			return c
		}
		log.LogAttrs(ctx, slog.LevelDebug, "request", attrs...)
		return c
	})
}

// Recover turns a panic further down the chain into an internal error on
// the context.
func Recover[C protocol.RequestContext](log *slog.Logger) Middleware[C] {
	return MiddlewareFunc[C](func(ctx context.Context, c C, next Next[C]) (out C) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler", "panic", r, "stack", string(debug.Stack()))
				c.HandleError(protocol.Errorf(protocol.KindInternal, "panic: %v", r))
				out = c
			}
		}()
		return next(ctx, c)
	})
}

// Tracing wraps the rest of the chain in a span named by name(c).
func Tracing[C protocol.RequestContext](tracer trace.Tracer, name func(C) string) Middleware[C] {
	return MiddlewareFunc[C](func(ctx context.Context, c C, next Next[C]) C {
		spanName := "request"
		if name != nil {
			spanName = name(c)
		}
		kind := trace.SpanKindServer
		if c.Role() == protocol.RoleClient {
			kind = trace.SpanKindClient
		}

		ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(kind))
		defer span.End()

		c = next(ctx, c)

		if d, ok := any(c).(Describer); ok {
			for _, a := range d.LogAttrs() {
				span.SetAttributes(attribute.String(a.Key, a.Value.String()))
			}
		}
		if f, ok := any(c).(Failer); ok && f.Err() != nil {
			err := f.Err()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("error.kind", protocol.KindOf(err).String()))
		}
		return c
	})
}
