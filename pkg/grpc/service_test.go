package grpc

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	grpcgo "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/getmockd/polyd/pkg/http2"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

const echoMethod = "/polyd.test.Echo/Echo"

func newEchoService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(opts...)
	require.NoError(t, svc.Handle(echoMethod, Unary(
		func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} },
		func(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
			switch req.GetValue() {
			case "missing":
				return nil, status.Error(codes.NotFound, "no such thing")
			case "bad":
				return nil, protocol.Errorf(protocol.KindBadRequest, "bad input")
			}
			md, _ := metadata.FromIncomingContext(ctx)
			suffix := ""
			if v := md.Get("x-suffix"); len(v) > 0 {
				suffix = v[0]
			}
			return wrapperspb.String("echo: " + req.GetValue() + suffix), nil
		},
	)))
	return svc
}

func dialService(t *testing.T, svc *Service) *grpcgo.ClientConn {
	t.Helper()
	fallback := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not grpc", http.StatusTeapot)
	})
	reg := protocol.NewRegistry()
	require.NoError(t, reg.Register(http2.New(Mount(svc, fallback))))
	d := protocol.NewDispatcher(reg, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { _ = d.Serve(context.Background(), c) }()
		}
	}()

	cc, err := grpcgo.NewClient("passthrough:///"+ln.Addr().String(),
		grpcgo.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestService_UnaryOverHTTP2(t *testing.T) {
	cc := dialService(t, newEchoService(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &wrapperspb.StringValue{}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-suffix", "!")
	require.NoError(t, cc.Invoke(ctx, echoMethod, wrapperspb.String("hi"), out))
	assert.Equal(t, "echo: hi!", out.GetValue())
}

func TestService_StatusErrors(t *testing.T) {
	cc := dialService(t, newEchoService(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		method string
		in     string
		code   codes.Code
		msg    string
	}{
		{echoMethod, "missing", codes.NotFound, "no such thing"},
		{echoMethod, "bad", codes.InvalidArgument, "bad request: bad input"},
		{"/polyd.test.Echo/Nope", "x", codes.Unimplemented, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := cc.Invoke(ctx, tt.method, wrapperspb.String(tt.in), &wrapperspb.StringValue{})
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
			if tt.msg != "" {
				assert.Equal(t, tt.msg, st.Message())
			}
		})
	}
}

func TestService_Middleware(t *testing.T) {
	var seen []string
	svc := newEchoService(t)
	svc.Use(middleware.MiddlewareFunc[*Context](func(ctx context.Context, c *Context, next middleware.Next[*Context]) *Context {
		seen = append(seen, c.Service()+"."+c.MethodName())
		c = next(ctx, c)
		c.Trailer.Set("x-served-by", "polyd")
		return c
	}))

	cc := dialService(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var trailer metadata.MD
	require.NoError(t, cc.Invoke(ctx, echoMethod, wrapperspb.String("x"), &wrapperspb.StringValue{}, grpcgo.Trailer(&trailer)))
	assert.Equal(t, []string{"polyd.test.Echo.Echo"}, seen)
	assert.Equal(t, []string{"polyd"}, trailer.Get("x-served-by"))
}

func TestService_HandleRejectsBadNames(t *testing.T) {
	svc := NewService()
	h := HandlerFunc(func(_ context.Context, c *Context) *Context { return c })
	assert.ErrorIs(t, svc.Handle("Echo", h), ErrInvalidMethod)
	assert.ErrorIs(t, svc.Handle("/Echo", h), ErrInvalidMethod)
	require.NoError(t, svc.Handle("/a.B/C", h))
	assert.Equal(t, []string{"/a.B/C"}, svc.Methods())
}

func TestContext_HandleError(t *testing.T) {
	c := NewContext(echoMethod, nil, nil)
	assert.Equal(t, codes.OK, c.Code())
	assert.NoError(t, c.Err())

	c.HandleError(protocol.Errorf(protocol.KindTimeout, "slow"))
	assert.Equal(t, codes.DeadlineExceeded, c.Code())
	assert.Error(t, c.Err())
	require.Len(t, c.Status.Details(), 1)
	info, ok := c.Status.Details()[0].(*errdetails.ErrorInfo)
	require.True(t, ok)
	assert.Equal(t, "CONNECTION_TIMEOUT", info.GetReason())
	assert.Equal(t, ErrorDomain, info.GetDomain())

	c.HandleError(status.Error(codes.AlreadyExists, "dup"))
	assert.Equal(t, codes.AlreadyExists, c.Code())
}
