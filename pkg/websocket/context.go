package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/getmockd/polyd/pkg/protocol"
)

// Message is one WebSocket data message.
type Message struct {
	Type ws.MessageType
	Data []byte
}

// Text returns a text message.
func Text(s string) Message { return Message{Type: ws.MessageText, Data: []byte(s)} }

// Binary returns a binary message.
func Binary(b []byte) Message { return Message{Type: ws.MessageBinary, Data: b} }

// Context is the RequestContext of one received message.
type Context struct {
	// Request is the handshake request.
	Request *http.Request
	// ConnID identifies the connection.
	ConnID  string
	Message Message

	replies     []Message
	closeCode   ws.StatusCode
	closeReason string
	ext         *protocol.Extensions
	err         error
}

// NewContext creates the context of msg received on a connection opened
// by req.
func NewContext(req *http.Request, connID string, msg Message) *Context {
	return &Context{Request: req, ConnID: connID, Message: msg, ext: protocol.NewExtensions()}
}

// Role implements protocol.RequestContext.
func (c *Context) Role() protocol.Role { return protocol.RoleServer }

// Extensions implements protocol.RequestContext.
func (c *Context) Extensions() *protocol.Extensions { return c.ext }

// HandleError implements protocol.RequestContext. The connection is closed
// with a status matching the error kind after the chain returns.
func (c *Context) HandleError(err error) {
	if err == nil {
		return
	}
	c.err = err
	c.Close(StatusFor(protocol.KindOf(err)), err.Error())
}

// Err returns the error recorded by HandleError.
func (c *Context) Err() error { return c.err }

// Param returns a path param of the handshake request.
func (c *Context) Param(name string) string { return c.ext.Param(name) }

// Reply queues a message sent after the chain returns.
func (c *Context) Reply(m Message) *Context {
	c.replies = append(c.replies, m)
	return c
}

// Replies returns the queued messages.
func (c *Context) Replies() []Message { return c.replies }

// Close asks for the connection to be closed after queued replies.
func (c *Context) Close(code ws.StatusCode, reason string) {
	// Close reasons are limited to 123 bytes.
	if len(reason) > 123 {
		reason = reason[:123]
	}
	c.closeCode, c.closeReason = code, reason
}

// Closing reports whether Close was called.
func (c *Context) Closing() (ws.StatusCode, string, bool) {
	return c.closeCode, c.closeReason, c.closeCode != 0
}

// LogAttrs implements middleware.Describer.
func (c *Context) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("conn", c.ConnID),
		slog.String("type", c.Message.Type.String()),
		slog.Int("bytes", len(c.Message.Data)),
	}
	if c.Request != nil {
		attrs = append(attrs, slog.String("path", c.Request.URL.Path))
	}
	return attrs
}

// StatusFor maps an error kind to a close status.
func StatusFor(k protocol.Kind) ws.StatusCode {
	switch k {
	case protocol.KindPayloadTooLarge:
		return ws.StatusMessageTooBig
	case protocol.KindAuth:
		return ws.StatusPolicyViolation
	case protocol.KindBadRequest, protocol.KindDecode, protocol.KindMalformedFrame:
		return ws.StatusUnsupportedData
	case protocol.KindTimeout, protocol.KindConnRefused, protocol.KindPoolExhausted:
		return ws.StatusTryAgainLater
	default:
		return ws.StatusInternalError
	}
}

// isNormalClose reports whether err is the peer closing normally.
func isNormalClose(err error) bool {
	switch ws.CloseStatus(err) {
	case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd:
		return true
	}
	return protocol.IsClosed(err)
}
