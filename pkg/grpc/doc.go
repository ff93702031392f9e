// Package grpc serves unary gRPC calls on the HTTP/2 binding.
//
// Messages use the gRPC length-prefixed framing (Frame, a
// protocol.Message). A Service routes calls by full method name
// ("/package.Service/Method") through a middleware chain over *Context and
// reports the outcome as grpc-status trailers. Mount puts a Service in
// front of another handler so gRPC and plain HTTP share one HTTP/2
// listener:
//
//	svc := grpc.NewService()
//	_ = svc.Handle("/polyd.Echo/Echo", grpc.Unary(newReq, echo))
//	h2 := http2.New(grpc.Mount(svc, web))
//
// Streaming calls are not supported.
package grpc
