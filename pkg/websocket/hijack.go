package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/getmockd/polyd/pkg/protocol"
)

// hijackWriter is the http.ResponseWriter handed to the handshake. A 101
// goes straight to the connection buffer; any other response is collected
// and written by finish.
type hijackWriter struct {
	conn   *protocol.Conn
	req    *http.Request
	header http.Header
	status int
	body   bytes.Buffer

	wroteHeader bool
	hijacked    bool
	err         error
}

func newHijackWriter(conn *protocol.Conn, req *http.Request) *hijackWriter {
	return &hijackWriter{conn: conn, req: req, header: make(http.Header)}
}

func (w *hijackWriter) Header() http.Header { return w.header }

func (w *hijackWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	if code != http.StatusSwitchingProtocols {
		return
	}
	resp := &http.Response{
		StatusCode: code,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     w.header,
		Request:    w.req,
	}
	w.err = resp.Write(w.conn.Writer())
}

func (w *hijackWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.status == http.StatusSwitchingProtocols {
		return 0, http.ErrBodyNotAllowed
	}
	return w.body.Write(b)
}

// Hijack implements http.Hijacker. It returns the socket underneath the
// shared buffers so they are not read through twice.
func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, errors.New("websocket: connection already hijacked")
	}
	if w.err != nil {
		return nil, nil, w.err
	}
	if err := w.conn.Flush(); err != nil {
		return nil, nil, err
	}
	w.hijacked = true
	return w.conn.Conn, bufio.NewReadWriter(w.conn.Reader(), w.conn.Writer()), nil
}

// finish writes a rejected handshake's response.
func (w *hijackWriter) finish() error {
	if w.hijacked || w.status == http.StatusSwitchingProtocols {
		return nil
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        w.header,
		Request:       w.req,
		Body:          io.NopCloser(bytes.NewReader(w.body.Bytes())),
		ContentLength: int64(w.body.Len()),
		Close:         true,
	}
	if err := resp.Write(w.conn.Writer()); err != nil {
		return err
	}
	return w.conn.Flush()
}
