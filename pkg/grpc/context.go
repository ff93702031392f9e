package grpc

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

// Context is the RequestContext of a unary gRPC call.
type Context struct {
	// Method is the full method name, "/package.Service/Method".
	Method   string
	Metadata metadata.MD
	// Request is the encoded request message.
	Request []byte
	// Response is the encoded response message.
	Response []byte
	// Status is the call outcome; nil means OK.
	Status *status.Status
	// Trailer is sent along with the status.
	Trailer metadata.MD

	ext *protocol.Extensions
}

// NewContext creates a context for a call to method.
func NewContext(method string, md metadata.MD, request []byte) *Context {
	return &Context{
		Method:   method,
		Metadata: md,
		Request:  request,
		Trailer:  metadata.MD{},
		ext:      protocol.NewExtensions(),
	}
}

// Role implements protocol.RequestContext.
func (c *Context) Role() protocol.Role { return protocol.RoleServer }

// Extensions implements protocol.RequestContext.
func (c *Context) Extensions() *protocol.Extensions { return c.ext }

// HandleError implements protocol.RequestContext. gRPC status errors keep
// their code; other errors map by kind.
func (c *Context) HandleError(err error) {
	if err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		c.Status = st
		return
	}
	kind := protocol.KindOf(err)
	st := status.New(CodeFor(kind), err.Error())
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: ReasonFor(kind), Domain: ErrorDomain}); derr == nil {
		st = detailed
	}
	c.Status = st
}

// ErrorDomain is the ErrorInfo domain of errors raised by the runtime.
const ErrorDomain = "polyd"

// ReasonFor returns the ErrorInfo reason of k, such as "PAYLOAD_TOO_LARGE".
func ReasonFor(k protocol.Kind) string {
	r := strings.NewReplacer(" ", "_", "/", "", "-", "_")
	return strings.ToUpper(r.Replace(k.String()))
}

// Code returns the status code of the call.
func (c *Context) Code() codes.Code {
	return c.Status.Code()
}

// Service returns the service part of the method name.
func (c *Context) Service() string {
	svc, _ := splitMethod(c.Method)
	return svc
}

// MethodName returns the method part of the method name.
func (c *Context) MethodName() string {
	_, m := splitMethod(c.Method)
	return m
}

// LogAttrs implements middleware.Describer.
func (c *Context) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("method", c.Method),
		slog.String("code", c.Code().String()),
	}
}

// Err implements middleware.Failer.
func (c *Context) Err() error {
	if c.Status == nil || c.Status.Code() == codes.OK {
		return nil
	}
	return c.Status.Err()
}

// CodeFor maps an error kind to a gRPC status code.
func CodeFor(k protocol.Kind) codes.Code {
	switch k {
	case protocol.KindBadRequest, protocol.KindDecode, protocol.KindMalformedFrame:
		return codes.InvalidArgument
	case protocol.KindAuth:
		return codes.Unauthenticated
	case protocol.KindTimeout:
		return codes.DeadlineExceeded
	case protocol.KindPayloadTooLarge, protocol.KindPoolExhausted:
		return codes.ResourceExhausted
	case protocol.KindMethodNotAllowed, protocol.KindUnsupportedVersion:
		return codes.Unimplemented
	case protocol.KindConnRefused, protocol.KindHostResolution, protocol.KindClosed,
		protocol.KindIo, protocol.KindTLS:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Handler is the terminal step of a gRPC chain.
type Handler = middleware.Handler[*Context]

// HandlerFunc adapts a function to Handler.
type HandlerFunc = middleware.HandlerFunc[*Context]

// Middleware intercepts gRPC calls.
type Middleware = middleware.Middleware[*Context]

// Unary adapts a typed function to a Handler. newReq returns an empty
// request message to decode into.
func Unary[Req, Resp proto.Message](newReq func() Req, fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return HandlerFunc(func(ctx context.Context, c *Context) *Context {
		req := newReq()
		if err := proto.Unmarshal(c.Request, req); err != nil {
			c.HandleError(status.Errorf(codes.InvalidArgument, "decode request: %v", err))
			return c
		}

		resp, err := fn(metadata.NewIncomingContext(ctx, c.Metadata), req)
		if err != nil {
			c.HandleError(err)
			return c
		}
		b, err := proto.Marshal(resp)
		if err != nil {
			c.HandleError(protocol.Wrap(protocol.KindEncode, err))
			return c
		}
		c.Response = b
		return c
	})
}

func splitMethod(full string) (string, string) {
	s := strings.TrimPrefix(full, "/")
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}
