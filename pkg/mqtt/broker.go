package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/route"
)

// ListenerID names the connections handed over by the dispatcher.
const ListenerID = "polyd"

// Middleware intercepts published messages.
type Middleware = middleware.Middleware[*Context]

// Handler handles a published message.
type Handler = middleware.Handler[*Context]

// HandlerFunc adapts a function to Handler.
type HandlerFunc = middleware.HandlerFunc[*Context]

type endpoint struct {
	handler Handler
	mws     []Middleware
	chain   *middleware.Chain[*Context]
}

// Broker is an embedded MQTT broker whose connections come from the
// protocol dispatcher.
type Broker struct {
	server    *mqtt.Server
	router    *route.Router[*endpoint]
	log       *slog.Logger
	users     []User
	maxPacket uint32
	ctx       context.Context

	mu        sync.RWMutex
	mws       []Middleware
	endpoints []*endpoint
	started   bool
	closed    atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger, also used by the embedded server.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithUsers requires clients to authenticate as one of users.
func WithUsers(users ...User) Option {
	return func(b *Broker) { b.users = append(b.users, users...) }
}

// WithMiddleware adds broker-level middlewares.
func WithMiddleware(mws ...Middleware) Option {
	return func(b *Broker) { b.mws = append(b.mws, mws...) }
}

// WithMaxPacketSize bounds inbound packets.
func WithMaxPacketSize(n uint32) Option {
	return func(b *Broker) { b.maxPacket = n }
}

// NewBroker creates a broker. Without users every client is accepted.
func NewBroker(opts ...Option) (*Broker, error) {
	b := &Broker{
		router: route.NewRouter[*endpoint](),
		log:    logging.Nop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}

	caps := mqtt.NewDefaultServerCapabilities()
	if b.maxPacket > 0 {
		caps.MaximumPacketSize = b.maxPacket
	}
	b.server = mqtt.New(&mqtt.Options{
		InlineClient: true,
		Capabilities: caps,
		Logger:       logging.Component(b.log, "mqtt"),
	})

	var authz mqtt.Hook = new(auth.AllowHook)
	if len(b.users) > 0 {
		authz = &authHook{users: b.users}
	}
	if err := b.server.AddHook(authz, nil); err != nil {
		return nil, fmt.Errorf("failed to add auth hook: %w", err)
	}
	if err := b.server.AddHook(&routeHook{broker: b}, nil); err != nil {
		return nil, fmt.Errorf("failed to add route hook: %w", err)
	}
	return b, nil
}

// Handle registers h for messages published on topics matching pattern.
func (b *Broker) Handle(pattern string, h Handler, mws ...Middleware) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &endpoint{handler: h, mws: mws}
	ep.chain = middleware.Build(middleware.Concat(b.mws, mws), h)
	if err := b.router.Handle(pattern, ep); err != nil {
		return err
	}
	b.endpoints = append(b.endpoints, ep)
	return nil
}

// HandleFunc registers a function handler.
func (b *Broker) HandleFunc(pattern string, fn func(ctx context.Context, c *Context) *Context, mws ...Middleware) error {
	return b.Handle(pattern, HandlerFunc(fn), mws...)
}

// Use appends broker-level middlewares to every endpoint.
func (b *Broker) Use(mws ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mws = append(b.mws, mws...)
	for _, ep := range b.endpoints {
		ep.chain = middleware.Build(middleware.Concat(b.mws, ep.mws), ep.handler)
	}
}

// Start starts the broker's event loop. ctx is passed to message
// handlers.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("broker is already running")
	}
	if b.closed.Load() {
		return errors.New("broker is closed")
	}
	b.ctx = ctx
	b.started = true

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("mqtt server error", "error", err)
		}
	}()
	return nil
}

// Close disconnects every client and stops the broker.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.server.Close()
}

// Publish publishes a message from the broker itself.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if b.closed.Load() {
		return errors.New("broker is closed")
	}
	return b.server.Publish(topic, payload, retain, qos)
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	return len(b.server.Clients.GetAll())
}

func (b *Broker) lookup(topic string) (map[string]string, *middleware.Chain[*Context], bool) {
	m, ok := b.router.Lookup(topic)
	if !ok {
		return nil, nil, false
	}
	b.mu.RLock()
	chain := m.Value.chain
	b.mu.RUnlock()
	return m.Params, chain, true
}

// routeHook runs client publishes through the endpoint chains.
type routeHook struct {
	mqtt.HookBase
	broker *Broker
}

func (h *routeHook) ID() string { return "polyd-routes" }

func (h *routeHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mqtt.OnPublish}, []byte{b})
}

func (h *routeHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline {
		return pk, nil
	}
	params, chain, ok := h.broker.lookup(pk.TopicName)
	if !ok {
		return pk, nil
	}

	c := NewContext(cl.ID, pk.TopicName, pk.Payload)
	c.Username = string(cl.Properties.Username)
	c.QoS = pk.FixedHeader.Qos
	c.Retain = pk.FixedHeader.Retain
	c.Extensions().SetParams(params)

	b := h.broker
	b.mu.RLock()
	ctx := b.ctx
	b.mu.RUnlock()
	c = chain.Run(ctx, c)

	if replies := c.Replies(); len(replies) > 0 {
		go func() {
			for _, r := range replies {
				if err := b.Publish(r.Topic, r.Payload, r.QoS, r.Retain); err != nil {
					b.log.Warn("mqtt reply not published", "topic", r.Topic, "error", err)
				}
			}
		}()
	}
	if c.Rejected() {
		if err := c.Err(); err != nil {
			b.log.Debug("mqtt message rejected", "client", cl.ID, "topic", pk.TopicName, "error", err)
		}
		return pk, packets.ErrRejectPacket
	}
	return pk, nil
}
