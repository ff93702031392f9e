// Package websocket binds WebSocket to the protocol runtime.
//
// WebSocket is never detected from the first bytes of a connection. An
// HTTP/1 endpoint accepts the upgrade with Service.Upgrade, which asks the
// HTTP/1 binding to switch; the Protocol then completes the handshake with
// the upgrade request left as handoff and runs every received message
// through the middleware chain of the endpoint matching the request path.
//
//	svc := websocket.NewService()
//	_ = svc.HandleFunc("/chat/<room>", chat)
//	_ = web.HandleFunc(http.MethodGet, "/chat/<room>", svc.Upgrade)
package websocket
