package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/route"
)

// CallKey is the Extensions local under which Invoke stores the *Call of
// the running invocation.
const CallKey = "client.call"

// Outpoint is a registered outbound operation.
type Outpoint[C protocol.RequestContext] struct {
	Client      string
	Operation   string
	Route       string
	Patterns    []route.Pattern
	Names       []string
	Handler     middleware.Handler[C]
	Middlewares []middleware.Middleware[C]
	Config      map[string]any

	chain *middleware.Chain[C]
}

// Path expands the route with params. Named segments take their param,
// literal segments are copied, and a catch-all takes its param verbatim.
// A missing param, or one its segment pattern rejects, is an error.
func (o *Outpoint[C]) Path(params map[string]string) (string, error) {
	var sb strings.Builder
	for i, p := range o.Patterns {
		name := ""
		if i < len(o.Names) {
			name = o.Names[i]
		}

		var seg string
		switch {
		case p.Kind == route.KindLiteral:
			seg = p.Value
		case name == "":
			return "", protocol.Errorf(protocol.KindBadRequest, "%s/%s: segment %d (%s) has no name to fill", o.Client, o.Operation, i, p)
		default:
			v, ok := params[name]
			if !ok {
				return "", protocol.Errorf(protocol.KindBadRequest, "%s/%s: missing param %q", o.Client, o.Operation, name)
			}
			if p.Kind != route.KindAnyPath && (v == "" || !p.Matches(v)) {
				return "", protocol.Errorf(protocol.KindBadRequest, "%s/%s: param %q=%q does not match %s", o.Client, o.Operation, name, v, p)
			}
			seg = v
		}
		if seg == "" {
			continue
		}
		sb.WriteByte('/')
		sb.WriteString(seg)
	}
	if sb.Len() == 0 {
		return "/", nil
	}
	return sb.String(), nil
}

// Call describes the invocation in progress. Terminal handlers read it
// from the context's extensions.
type Call struct {
	Client    string
	Operation string
	Target    *Target
	Path      string
	Config    map[string]any
	Statics   *protocol.Extensions
}

// CallOf returns the Call stored on a context by Invoke.
func CallOf(c protocol.RequestContext) (*Call, bool) {
	return protocol.Local[*Call](c.Extensions(), CallKey)
}

// Invoke runs the outpoint registered under (client, operation) for
// context type C. Client-level middlewares are part of the stored chain.
func Invoke[C protocol.RequestContext](ctx context.Context, r *Registry, client, operation string, c C) (C, error) {
	o, ok := Get[C](r, client, operation)
	if !ok {
		return c, protocol.Errorf(protocol.KindOther, "no outpoint %s/%s for %T", client, operation, c)
	}
	chain := o.chain
	if chain == nil {
		// Stored directly with Register rather than through a builder.
		if o.Handler == nil {
			return c, protocol.Errorf(protocol.KindOther, "outpoint %s/%s has no handler", client, operation)
		}
		chain = o.build(nil, nil, nil)
	}
	return chain.Run(ctx, c), nil
}

// build assembles the outpoint's chain: the Call recorder, then clientMws,
// then the outpoint's own middlewares, ending in Handler.
func (o *Outpoint[C]) build(target *Target, statics *protocol.Extensions, clientMws []middleware.Middleware[C]) *middleware.Chain[C] {
	call := middleware.MiddlewareFunc[C](func(ctx context.Context, c C, next middleware.Next[C]) C {
		path := ""
		if len(o.Patterns) > 0 || o.Route != "" {
			p, err := o.Path(c.Extensions().Params())
			if err != nil {
				c.HandleError(err)
				return c
			}
			path = p
		}
		c.Extensions().Set(CallKey, &Call{
			Client:    o.Client,
			Operation: o.Operation,
			Target:    target,
			Path:      path,
			Config:    o.Config,
			Statics:   statics,
		})
		return next(ctx, c)
	})

	mws := make([]middleware.Middleware[C], 0, 1+len(clientMws)+len(o.Middlewares))
	mws = append(mws, call)
	mws = append(mws, middleware.Concat(clientMws, o.Middlewares)...)
	return middleware.Build(mws, o.Handler)
}

// OutpointBuilder declares an outpoint on a Client.
type OutpointBuilder[C protocol.RequestContext] struct {
	client *Client[C]
	o      *Outpoint[C]
	err    error
}

// Route sets the route pattern, parsed with the route grammar.
func (b *OutpointBuilder[C]) Route(r string) *OutpointBuilder[C] {
	patterns, names, err := route.Parse(r)
	if err != nil {
		b.err = err
		return b
	}
	b.o.Route = r
	b.o.Patterns = patterns
	b.o.Names = names
	return b
}

// Use appends middlewares that run after the client's own.
func (b *OutpointBuilder[C]) Use(mws ...middleware.Middleware[C]) *OutpointBuilder[C] {
	b.o.Middlewares = append(b.o.Middlewares, mws...)
	return b
}

// Handle sets the terminal handler.
func (b *OutpointBuilder[C]) Handle(h middleware.Handler[C]) *OutpointBuilder[C] {
	b.o.Handler = h
	return b
}

// HandleFunc sets the terminal handler from a function.
func (b *OutpointBuilder[C]) HandleFunc(fn func(ctx context.Context, c C) C) *OutpointBuilder[C] {
	return b.Handle(middleware.HandlerFunc[C](fn))
}

// Set stores a configuration value on the outpoint.
func (b *OutpointBuilder[C]) Set(key string, value any) *OutpointBuilder[C] {
	if b.o.Config == nil {
		b.o.Config = make(map[string]any)
	}
	b.o.Config[key] = value
	return b
}

// Register builds the chain and stores the outpoint, replacing any
// previous registration under the same name.
func (b *OutpointBuilder[C]) Register() (*Outpoint[C], error) {
	if b.err != nil {
		return nil, fmt.Errorf("outpoint %s/%s: %w", b.o.Client, b.o.Operation, b.err)
	}
	if b.o.Handler == nil {
		return nil, fmt.Errorf("outpoint %s/%s: no handler", b.o.Client, b.o.Operation)
	}

	cl := b.client
	o := b.o
	o.chain = o.build(cl.target, cl.statics, cl.mws)

	Register(cl.registry, o.Client, o.Operation, o)
	return o, nil
}
