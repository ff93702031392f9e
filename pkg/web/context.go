package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getmockd/polyd/pkg/protocol"
)

// Response is the response being built by a handler.
type Response struct {
	Status int
	Header http.Header
	Body   bytes.Buffer
}

// WriteTo writes the response to w.
func (r *Response) WriteTo(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body.Bytes())
}

// HTTPResponse converts the response for writing to a raw connection.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	body := r.Body.Bytes()
	resp := &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Request:       req,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
	if req != nil {
		resp.ProtoMajor, resp.ProtoMinor = req.ProtoMajor, req.ProtoMinor
		if req.Method == http.MethodHead {
			resp.Body = http.NoBody
		}
	}
	if status == http.StatusSwitchingProtocols {
		resp.ContentLength = 0
		resp.Body = nil
	}
	return resp
}

// Context is the HTTP RequestContext.
type Context struct {
	Request  *http.Request
	Response *Response
	// Route is the route string of the matched endpoint.
	Route string

	ext      *protocol.Extensions
	err      error
	maxBody  int64
	body     []byte
	bodyRead bool
	switchTo protocol.ID
}

// NewContext wraps req in a fresh context.
func NewContext(req *http.Request) *Context {
	return &Context{
		Request:  req,
		Response: &Response{Header: make(http.Header)},
		ext:      protocol.NewExtensions(),
		maxBody:  protocol.DefaultMaxBodyBytes,
	}
}

// Role implements protocol.RequestContext.
func (c *Context) Role() protocol.Role { return protocol.RoleServer }

// Extensions implements protocol.RequestContext.
func (c *Context) Extensions() *protocol.Extensions { return c.ext }

// HandleError implements protocol.RequestContext. The response becomes the
// status code of the error's kind with the error text as body.
func (c *Context) HandleError(err error) {
	if err == nil {
		return
	}
	c.err = err
	status := StatusFor(protocol.KindOf(err))
	c.Response.Header.Del("Content-Length")
	c.Text(status, http.StatusText(status)+": "+err.Error())
}

// Err returns the error recorded by HandleError.
func (c *Context) Err() error { return c.err }

// SetMaxBody sets the limit applied by Body.
func (c *Context) SetMaxBody(n int64) { c.maxBody = n }

// Param returns a path param.
func (c *Context) Param(name string) string { return c.ext.Param(name) }

// Body reads the whole request body once. Bodies over the limit fail with
// KindPayloadTooLarge.
func (c *Context) Body() ([]byte, error) {
	if c.bodyRead {
		return c.body, nil
	}
	c.bodyRead = true
	if c.Request == nil || c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	if c.maxBody > 0 && c.Request.ContentLength > c.maxBody {
		return nil, protocol.Errorf(protocol.KindPayloadTooLarge, "%d bytes exceeds %d", c.Request.ContentLength, c.maxBody)
	}

	r := io.Reader(c.Request.Body)
	if c.maxBody > 0 {
		r = io.LimitReader(r, c.maxBody+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, protocol.Wrap(protocol.KindPayloadTooLarge, err)
		}
		return nil, protocol.Wrap(protocol.KindBadRequest, err)
	}
	if c.maxBody > 0 && int64(len(b)) > c.maxBody {
		return nil, protocol.Errorf(protocol.KindPayloadTooLarge, "body exceeds %d bytes", c.maxBody)
	}
	c.body = b
	return b, nil
}

// Text sets a plain text response.
func (c *Context) Text(status int, s string) *Context {
	return c.Bytes(status, "text/plain; charset=utf-8", []byte(s))
}

// JSON sets a JSON response.
func (c *Context) JSON(status int, v any) *Context {
	b, err := json.Marshal(v)
	if err != nil {
		c.HandleError(protocol.Wrap(protocol.KindEncode, err))
		return c
	}
	return c.Bytes(status, "application/json", b)
}

// Bytes sets a response body with an explicit content type.
func (c *Context) Bytes(status int, contentType string, b []byte) *Context {
	c.Response.Status = status
	if contentType != "" {
		c.Response.Header.Set("Content-Type", contentType)
	}
	c.Response.Body.Reset()
	c.Response.Body.Write(b)
	return c
}

// SwitchProtocol asks the adapter to hand the connection to target after
// this request. Only adapters that own the raw connection honour it.
func (c *Context) SwitchProtocol(target protocol.ID) {
	c.switchTo = target
}

// SwitchTarget returns the protocol requested by SwitchProtocol.
func (c *Context) SwitchTarget() (protocol.ID, bool) {
	return c.switchTo, c.switchTo != ""
}

// LogAttrs implements middleware.Describer.
func (c *Context) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	if c.Request != nil {
		attrs = append(attrs,
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)
	}
	if c.Route != "" {
		attrs = append(attrs, slog.String("route", c.Route))
	}
	status := c.Response.Status
	if status == 0 {
		status = http.StatusOK
	}
	return append(attrs, slog.Int("status", status))
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(k protocol.Kind) int {
	switch k {
	case protocol.KindBadRequest, protocol.KindMalformedFrame, protocol.KindDecode:
		return http.StatusBadRequest
	case protocol.KindAuth:
		return http.StatusUnauthorized
	case protocol.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case protocol.KindTimeout:
		return http.StatusGatewayTimeout
	case protocol.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case protocol.KindUnsupportedVersion:
		return http.StatusHTTPVersionNotSupported
	case protocol.KindConnRefused, protocol.KindHostResolution, protocol.KindTLS,
		protocol.KindClosed, protocol.KindIo:
		return http.StatusBadGateway
	case protocol.KindPoolExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
