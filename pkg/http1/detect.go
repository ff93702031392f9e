package http1

import "bytes"

// methods are the request line prefixes recognized by Detect. PRI is left
// out so the HTTP/2 preface is not taken for a request.
var methods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("HEAD "),
	[]byte("OPTIONS "),
	[]byte("PATCH "),
	[]byte("CONNECT "),
	[]byte("TRACE "),
}

// Detect reports whether initial starts with an HTTP/1 request line.
func Detect(initial []byte) bool {
	for _, m := range methods {
		if bytes.HasPrefix(initial, m) {
			return true
		}
	}
	return false
}
