// Package web is the HTTP request context shared by the HTTP/1, HTTP/2
// and HTTP/3 adapters, plus the routed Service they serve.
//
// A Service maps route strings (see package route) and methods to
// endpoints. Service-level middlewares run before endpoint middlewares.
// The same Service can be mounted on a raw connection by the http1 adapter
// or on any net/http server through ServeHTTP.
package web
