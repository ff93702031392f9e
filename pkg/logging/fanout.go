package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout is a slog.Handler that writes every record to all of its handlers.
type Fanout struct {
	handlers []slog.Handler
}

// NewFanout creates a handler writing to handlers. Nil handlers are skipped.
func NewFanout(handlers ...slog.Handler) *Fanout {
	own := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			own = append(own, h)
		}
	}
	return &Fanout{handlers: own}
}

// Enabled reports whether any handler is enabled for level.
func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes r to each enabled handler. A failing handler does not stop
// the others; their errors are joined.
func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &Fanout{handlers: handlers}
}

// WithGroup implements slog.Handler.
func (f *Fanout) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &Fanout{handlers: handlers}
}
