package http1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/polyd/pkg/protocol"
)

// ClientContext is the RequestContext of an outbound HTTP/1 call.
type ClientContext struct {
	Request  *http.Request
	Response *http.Response
	// Body is the fully read response body.
	Body []byte
	// MaxBody bounds Body; zero selects protocol.DefaultMaxBodyBytes.
	MaxBody int64

	ext *protocol.Extensions
	err error
}

// NewClientContext wraps an outbound request.
func NewClientContext(req *http.Request) *ClientContext {
	return &ClientContext{Request: req, ext: protocol.NewExtensions()}
}

// Role implements protocol.RequestContext.
func (c *ClientContext) Role() protocol.Role { return protocol.RoleClient }

// Extensions implements protocol.RequestContext.
func (c *ClientContext) Extensions() *protocol.Extensions { return c.ext }

// HandleError implements protocol.RequestContext. The first error is kept.
func (c *ClientContext) HandleError(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

// Err returns the recorded error.
func (c *ClientContext) Err() error { return c.err }

// StatusCode returns the response status, or 0 without a response.
func (c *ClientContext) StatusCode() int {
	if c.Response == nil {
		return 0
	}
	return c.Response.StatusCode
}

// LogAttrs implements middleware.Describer.
func (c *ClientContext) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("role", "client")}
	if c.Request != nil {
		attrs = append(attrs, slog.String("method", c.Request.Method), slog.String("url", c.Request.URL.String()))
	}
	if c.Response != nil {
		attrs = append(attrs, slog.Int("status", c.Response.StatusCode))
	}
	return attrs
}

// Send writes req to conn and reads the response, buffering at most
// maxBody bytes of body. The returned response's Body reads the buffered
// bytes. reusable is false when conn must not carry another request.
func Send(ctx context.Context, conn net.Conn, req *http.Request, maxBody int64) (resp *http.Response, body []byte, reusable bool, err error) {
	if maxBody <= 0 {
		maxBody = protocol.DefaultMaxBodyBytes
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	w := bufio.NewWriter(conn)
	if err := req.Write(w); err != nil {
		return nil, nil, false, wrapCtx(ctx, protocol.Classify(err))
	}
	if err := w.Flush(); err != nil {
		return nil, nil, false, wrapCtx(ctx, protocol.Classify(err))
	}

	br := bufio.NewReader(conn)
	resp, err = http.ReadResponse(br, req)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindOther {
			err = protocol.Wrap(protocol.KindMalformedFrame, err)
		}
		return nil, nil, false, wrapCtx(ctx, protocol.Classify(err))
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, nil, false, wrapCtx(ctx, protocol.Classify(err))
	}
	if int64(len(body)) > maxBody {
		return nil, nil, false, protocol.Errorf(protocol.KindPayloadTooLarge, "response body exceeds %d bytes", maxBody)
	}

	reusable = !resp.Close && br.Buffered() == 0
	resp.Body = io.NopCloser(bytes.NewReader(body))
	_ = conn.SetDeadline(time.Time{})
	return resp, body, reusable, nil
}

func wrapCtx(ctx context.Context, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return protocol.Wrap(protocol.KindTimeout, ctxErr)
	case ctxErr != nil:
		return ctxErr
	default:
		return err
	}
}
