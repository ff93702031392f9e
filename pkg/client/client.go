package client

import (
	"context"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

// Client groups outpoints that share a base target, middlewares and
// configuration.
type Client[C protocol.RequestContext] struct {
	name     string
	registry *Registry
	target   *Target
	mws      []middleware.Middleware[C]
	config   map[string]any
	statics  *protocol.Extensions
	err      error
}

// ClientOption configures a Client.
type ClientOption[C protocol.RequestContext] func(*Client[C])

// WithBaseURL sets the base target of every outpoint.
func WithBaseURL[C protocol.RequestContext](raw string) ClientOption[C] {
	return func(c *Client[C]) {
		t, err := ParseTarget(raw)
		if err != nil {
			c.err = err
			return
		}
		c.target = &t
	}
}

// WithMiddleware appends client-level middlewares. They run before the
// middlewares of each outpoint.
func WithMiddleware[C protocol.RequestContext](mws ...middleware.Middleware[C]) ClientOption[C] {
	return func(c *Client[C]) { c.mws = append(c.mws, mws...) }
}

// WithConfig stores a client configuration value.
func WithConfig[C protocol.RequestContext](key string, value any) ClientOption[C] {
	return func(c *Client[C]) { c.config[key] = value }
}

// WithStatic stores a value shared by every call of the client.
func WithStatic[C protocol.RequestContext](key string, value any) ClientOption[C] {
	return func(c *Client[C]) { c.statics.Set(key, value) }
}

// NewClient creates a client registering its outpoints in reg.
func NewClient[C protocol.RequestContext](name string, reg *Registry, opts ...ClientOption[C]) (*Client[C], error) {
	c := &Client[C]{
		name:     name,
		registry: reg,
		config:   make(map[string]any),
		statics:  protocol.NewExtensions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c, nil
}

// Name returns the client name.
func (c *Client[C]) Name() string { return c.name }

// Target returns the base target, or nil.
func (c *Client[C]) Target() *Target { return c.target }

// Config returns a client configuration value.
func (c *Client[C]) Config(key string) (any, bool) {
	v, ok := c.config[key]
	return v, ok
}

// Define starts declaring the outpoint named operation.
func (c *Client[C]) Define(operation string) *OutpointBuilder[C] {
	o := &Outpoint[C]{Client: c.name, Operation: operation}
	for k, v := range c.config {
		if o.Config == nil {
			o.Config = make(map[string]any)
		}
		o.Config[k] = v
	}
	return &OutpointBuilder[C]{client: c, o: o}
}

// Invoke runs the client's outpoint named operation.
func (c *Client[C]) Invoke(ctx context.Context, operation string, cc C) (C, error) {
	return Invoke(ctx, c.registry, c.name, operation, cc)
}
