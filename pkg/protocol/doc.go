// Package protocol defines the capability set every wire format implements
// and the connection dispatcher that selects between them.
//
// This package establishes contracts that enable:
//   - Byte-sniffing detection of the protocol spoken on an accepted connection
//   - In-place protocol switching (HTTP/1 Upgrade to WebSocket, h2c)
//   - A single error taxonomy shared by servers, clients and the pool
//   - A per-request extension side-channel for params and locals
//
// # Capability Set
//
//	Protocol         - ID, Role, Detect, Handle (one per wire format)
//	Transport        - connection-scoped state (*Conn for stream protocols)
//	Stream           - multiplexed sub-channel identity (NoStream otherwise)
//	Message          - one encodable/decodable wire unit
//	RequestContext   - per-request state threaded through middleware
//
// # Dispatch
//
// A Registry holds the ordered set of protocols enabled on a listener. The
// Dispatcher peeks at the first bytes of every accepted connection, asks
// each protocol's Detect in registration order and hands the connection to
// the first one that matches:
//
//	reg := protocol.NewRegistry()
//	reg.Register(http2.New(svc))
//	reg.Register(http1.New(svc))
//	reg.Register(websocket.New(wsHandler))
//
//	d := protocol.NewDispatcher(reg, protocol.NewApp())
//	err := d.Serve(ctx, netConn)
//
// # Switching
//
// A protocol requests a handoff by returning SwitchProtocol(id) from Handle.
// A protocol requesting a switch must not have consumed any bytes past its
// own handshake terminator. All protocols on a connection read through the
// same buffered reader, so bytes that were buffered but not consumed remain
// readable by the next protocol. Parsed handshake state is passed along with
// Conn.SetHandoff.
package protocol
