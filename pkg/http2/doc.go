// Package http2 binds HTTP/2 to the protocol runtime.
//
// Connections are detected by the client connection preface (prior
// knowledge, which is how gRPC clients connect in cleartext) or arrive by
// switch from HTTP/1 after an h2c upgrade, in which case the upgrade
// request is served as stream 1. Frames are handled by
// golang.org/x/net/http2; requests go to an http.Handler, normally a
// web.Service with a gRPC service mounted in front of it.
package http2
