package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/getmockd/polyd/pkg/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	Run(context.Background(), []Middleware[*testCtx]{Logging[*testCtx](log)}, terminal, newTestCtx())
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "role=server")

	buf.Reset()
	fail := HandlerFunc[*testCtx](func(_ context.Context, c *testCtx) *testCtx {
		c.HandleError(protocol.Errorf(protocol.KindBadRequest, "bad"))
		return c
	})
	Run(context.Background(), []Middleware[*testCtx]{Logging[*testCtx](log)}, fail, newTestCtx())
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "bad request: bad")
}

func newRecorder() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_RecordsSpan(t *testing.T) {
	sr, tracer := newRecorder()
	name := func(*testCtx) string { return "GET /users" }

	var inner trace.SpanContext
	end := HandlerFunc[*testCtx](func(ctx context.Context, c *testCtx) *testCtx {
		inner = trace.SpanContextFromContext(ctx)
		return c
	})
	Run(context.Background(), []Middleware[*testCtx]{Tracing[*testCtx](tracer, name)}, end, newTestCtx())

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /users", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracing_RecordsError(t *testing.T) {
	sr, tracer := newRecorder()
	fail := HandlerFunc[*testCtx](func(_ context.Context, c *testCtx) *testCtx {
		c.HandleError(protocol.Errorf(protocol.KindPayloadTooLarge, "body"))
		return c
	})
	Run(context.Background(), []Middleware[*testCtx]{Tracing[*testCtx](tracer, nil)}, fail, newTestCtx())

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "request", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
}
