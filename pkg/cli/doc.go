// Package cli implements the polyd command line.
//
//	polyd serve --listen :8080 --protocols http1,http2,websocket,mqtt
//	polyd call http://localhost:8080/hello/world
//	polyd version --json
//
// serve builds the bundled application: an HTTP service reachable over
// HTTP/1, HTTP/2 and HTTP/3, a WebSocket echo room, a gRPC echo method and
// an MQTT broker, all sharing one TCP port.
package cli
