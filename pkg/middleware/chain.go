package middleware

import (
	"context"
	"sync/atomic"
)

// Next continues the chain.
type Next[C any] func(ctx context.Context, c C) C

// Middleware intercepts a context on its way to the terminal handler.
type Middleware[C any] interface {
	Handle(ctx context.Context, c C, next Next[C]) C
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc[C any] func(ctx context.Context, c C, next Next[C]) C

// Handle implements Middleware.
func (f MiddlewareFunc[C]) Handle(ctx context.Context, c C, next Next[C]) C {
	return f(ctx, c, next)
}

// Handler is the terminal step of a chain.
type Handler[C any] interface {
	Serve(ctx context.Context, c C) C
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[C any] func(ctx context.Context, c C) C

// Serve implements Handler.
func (f HandlerFunc[C]) Serve(ctx context.Context, c C) C {
	return f(ctx, c)
}

// Chain is a composed continuation. It is immutable and safe for concurrent
// use; every Run gets fresh single-use next continuations.
type Chain[C any] struct {
	mws   []Middleware[C]
	entry Next[C]
}

// Build composes mws around terminal. A nil terminal returns the context
// unchanged.
func Build[C any](mws []Middleware[C], terminal Handler[C]) *Chain[C] {
	own := make([]Middleware[C], 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			own = append(own, mw)
		}
	}

	var k Next[C]
	if terminal == nil {
		k = func(_ context.Context, c C) C { return c }
	} else {
		k = terminal.Serve
	}
	for i := len(own) - 1; i >= 0; i-- {
		mw, inner := own[i], k
		k = func(ctx context.Context, c C) C {
			return mw.Handle(ctx, c, once(inner))
		}
	}
	return &Chain[C]{mws: own, entry: k}
}

// Run drives the chain to completion and returns the final context.
func (ch *Chain[C]) Run(ctx context.Context, c C) C {
	return ch.entry(ctx, c)
}

// Serve implements Handler so chains nest.
func (ch *Chain[C]) Serve(ctx context.Context, c C) C {
	return ch.entry(ctx, c)
}

// Len returns the number of middlewares.
func (ch *Chain[C]) Len() int { return len(ch.mws) }

// Middlewares returns a copy of the middleware list.
func (ch *Chain[C]) Middlewares() []Middleware[C] {
	out := make([]Middleware[C], len(ch.mws))
	copy(out, ch.mws)
	return out
}

// Run builds a chain and runs it once.
func Run[C any](ctx context.Context, mws []Middleware[C], terminal Handler[C], c C) C {
	return Build(mws, terminal).Run(ctx, c)
}

// Concat returns a new list holding outer followed by inner.
func Concat[C any](outer, inner []Middleware[C]) []Middleware[C] {
	out := make([]Middleware[C], 0, len(outer)+len(inner))
	out = append(out, outer...)
	return append(out, inner...)
}

// once guards next so the rest of the chain runs at most once; later calls
// hand back their argument untouched.
func once[C any](next Next[C]) Next[C] {
	var called atomic.Bool
	return func(ctx context.Context, c C) C {
		if !called.CompareAndSwap(false, true) {
			return c
		}
		return next(ctx, c)
	}
}
