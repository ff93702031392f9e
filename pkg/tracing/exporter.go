package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// StdoutExporter writes finished spans as JSON lines.
type StdoutExporter struct {
	mu      sync.Mutex
	w       io.Writer
	stopped bool
}

var _ sdktrace.SpanExporter = (*StdoutExporter)(nil)

// NewStdoutExporter creates an exporter writing to w.
func NewStdoutExporter(w io.Writer) *StdoutExporter {
	return &StdoutExporter{w: w}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *StdoutExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}

	enc := json.NewEncoder(e.w)
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(toOutput(s)); err != nil {
			return fmt.Errorf("encode span %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. Later exports are dropped.
func (e *StdoutExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

type spanOutput struct {
	TraceID       string            `json:"traceId"`
	SpanID        string            `json:"spanId"`
	ParentID      string            `json:"parentId,omitempty"`
	Name          string            `json:"name"`
	Kind          string            `json:"kind"`
	StartTime     string            `json:"startTime"`
	Duration      string            `json:"duration"`
	Status        string            `json:"status"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Events        []eventOutput     `json:"events,omitempty"`
}

type eventOutput struct {
	Name       string            `json:"name"`
	Timestamp  string            `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func toOutput(s sdktrace.ReadOnlySpan) spanOutput {
	sc := s.SpanContext()
	out := spanOutput{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		Name:          s.Name(),
		Kind:          s.SpanKind().String(),
		StartTime:     s.StartTime().Format(time.RFC3339Nano),
		Duration:      s.EndTime().Sub(s.StartTime()).String(),
		Status:        s.Status().Code.String(),
		StatusMessage: s.Status().Description,
	}
	if p := s.Parent(); p.HasSpanID() {
		out.ParentID = p.SpanID().String()
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		out.Attributes = make(map[string]string, len(attrs))
		for _, kv := range attrs {
			out.Attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}
	for _, ev := range s.Events() {
		eo := eventOutput{Name: ev.Name, Timestamp: ev.Time.Format(time.RFC3339Nano)}
		if len(ev.Attributes) > 0 {
			eo.Attributes = make(map[string]string, len(ev.Attributes))
			for _, kv := range ev.Attributes {
				eo.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		out.Events = append(out.Events, eo)
	}
	return out
}
