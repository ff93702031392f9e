// Package http1 binds HTTP/1.x to the protocol runtime.
//
// The server Protocol detects a request line by its method token, serves
// requests in a keep-alive loop through a web.Service and hands the
// connection over on upgrades: an endpoint calling
// web.Context.SwitchProtocol switches after its response (WebSocket), and
// an "Upgrade: h2c" request switches to HTTP/2 with the request attached
// as an Upgrade handoff.
//
// The client half, ClientContext and Send, writes requests to pooled
// connections and reads fully buffered responses.
package http1
