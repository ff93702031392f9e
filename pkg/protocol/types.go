package protocol

import (
	"bytes"
	"context"
)

// ID is the stable identity of a protocol. SwitchProtocol refers to
// protocols by ID.
type ID string

// Well-known protocol IDs.
const (
	IDHTTP1     ID = "http1"
	IDHTTP2     ID = "http2"
	IDHTTP3     ID = "http3"
	IDWebSocket ID = "websocket"
	IDGRPC      ID = "grpc"
	IDMQTT      ID = "mqtt"
)

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// Role says which side of a connection a protocol implementation plays.
type Role uint8

// Role constants.
const (
	RoleServer Role = iota
	RoleClient
)

// String returns the string representation of the role.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Protocol is a pluggable wire-format binding.
type Protocol interface {
	// ID returns the stable identity used for registration and switching.
	ID() ID

	// Role reports whether this binding accepts or initiates connections.
	Role() Role

	// Detect reports whether the first bytes of a connection belong to this
	// protocol. It must be a pure function of initial: it may not block,
	// read more bytes or retain the slice, and it returns false when
	// initial is too short to decide.
	Detect(initial []byte) bool

	// Handle drives the connection until it ends naturally, fails, or the
	// protocol asks for a switch by returning SwitchProtocol(id).
	Handle(ctx context.Context, conn *Conn, app *App) (Status, error)
}

// Transport is connection-scoped state owned by a protocol.
type Transport interface {
	ID() string
}

// Stream identifies a multiplexed sub-channel within one transport.
type Stream interface {
	StreamID() uint32
}

// NoStream is the Stream of protocols without multiplexing.
type NoStream struct{}

// StreamID always returns 0.
func (NoStream) StreamID() uint32 { return 0 }

// Message is one encodable/decodable wire unit.
//
// Decode returns (false, nil) when in does not yet hold a complete unit. In
// that case in is left untouched and the caller retries after appending more
// bytes. A malformed unit yields a non-nil error.
type Message interface {
	Encode(out *bytes.Buffer) error
	Decode(in *bytes.Buffer) (bool, error)
}

// RequestContext is the per-request state threaded through a middleware
// chain. Each protocol provides one implementation.
type RequestContext interface {
	// Role reports whether this context serves an inbound request or
	// performs an outbound call.
	Role() Role

	// HandleError records a failure on the context. Servers turn it into an
	// error response; clients record it as the call outcome.
	HandleError(err error)

	// Extensions returns the params and locals side-channel.
	Extensions() *Extensions
}
