package mqtt

import (
	"log/slog"

	"github.com/getmockd/polyd/pkg/protocol"
)

// Publish is a message published by the broker.
type Publish struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Context is the RequestContext of one message published by a client.
type Context struct {
	ClientID string
	Username string
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool

	replies  []Publish
	rejected bool
	ext      *protocol.Extensions
	err      error
}

// NewContext creates the context of a message published on topic.
func NewContext(clientID, topic string, payload []byte) *Context {
	return &Context{ClientID: clientID, Topic: topic, Payload: payload, ext: protocol.NewExtensions()}
}

// Role implements protocol.RequestContext.
func (c *Context) Role() protocol.Role { return protocol.RoleServer }

// Extensions implements protocol.RequestContext.
func (c *Context) Extensions() *protocol.Extensions { return c.ext }

// HandleError implements protocol.RequestContext. The message is dropped
// instead of being delivered to subscribers.
func (c *Context) HandleError(err error) {
	if err == nil {
		return
	}
	c.err = err
	c.rejected = true
}

// Err returns the error recorded by HandleError.
func (c *Context) Err() error { return c.err }

// Param returns a topic param.
func (c *Context) Param(name string) string { return c.ext.Param(name) }

// Reply queues a QoS 0 message published once the chain returns.
func (c *Context) Reply(topic string, payload []byte) *Context {
	return c.Publish(Publish{Topic: topic, Payload: payload})
}

// Publish queues a message published once the chain returns.
func (c *Context) Publish(p Publish) *Context {
	c.replies = append(c.replies, p)
	return c
}

// Replies returns the queued messages.
func (c *Context) Replies() []Publish { return c.replies }

// Reject drops the message.
func (c *Context) Reject() { c.rejected = true }

// Rejected reports whether the message is dropped.
func (c *Context) Rejected() bool { return c.rejected }

// LogAttrs implements middleware.Describer.
func (c *Context) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("client", c.ClientID),
		slog.String("topic", c.Topic),
		slog.Int("qos", int(c.QoS)),
		slog.Int("bytes", len(c.Payload)),
	}
}
