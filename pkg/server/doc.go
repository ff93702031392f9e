// Package server runs a dispatcher on a TCP listener.
//
// A Server accepts connections and serves each on its own goroutine
// through a protocol.Dispatcher. It can also run an HTTP/3 endpoint and a
// metrics listener alongside, all stopped together:
//
//	srv := server.New(dispatcher,
//		server.WithLogger(log),
//		server.WithHTTP3(h3),
//		server.WithMetrics(":9090", m.Handler()),
//	)
//	err := srv.ListenAndServe(ctx, ":8080")
//
// Cancelling ctx or calling Shutdown stops accepting, asks every protocol
// that supports it to drain, and closes connections still open when the
// shutdown timeout expires.
package server
