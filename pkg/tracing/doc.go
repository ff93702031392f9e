// Package tracing configures OpenTelemetry for polyd.
//
// NewProvider builds an SDK tracer provider from Config. Spans go to a
// JSON-lines writer (the "stdout" exporter) or nowhere ("none"), and
// sampling is parent-based over a trace id ratio.
//
// W3C Trace Context headers are carried with the otel TraceContext
// propagator:
//
//	svc.Use(tracing.ServerMiddleware(), middleware.Tracing(tracer, name))
//	caller := client.NewHTTPCaller(p, client.WithHTTPMiddleware(tracing.ClientMiddleware()))
//
// ServerMiddleware must run before the span-creating middleware so the
// server span joins the remote trace.
package tracing
