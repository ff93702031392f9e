// Package http3 serves a web.Service over QUIC.
//
// HTTP/3 runs on UDP, so it has its own listener next to the TCP
// dispatcher. AltSvc advertises it on HTTP/1 and HTTP/2 responses.
package http3
