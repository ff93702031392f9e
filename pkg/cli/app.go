package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/getmockd/polyd/pkg/config"
	"github.com/getmockd/polyd/pkg/grpc"
	"github.com/getmockd/polyd/pkg/http1"
	"github.com/getmockd/polyd/pkg/http2"
	"github.com/getmockd/polyd/pkg/http3"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/metrics"
	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/mqtt"
	"github.com/getmockd/polyd/pkg/pool"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/ratelimit"
	"github.com/getmockd/polyd/pkg/server"
	ptls "github.com/getmockd/polyd/pkg/tls"
	"github.com/getmockd/polyd/pkg/tracing"
	"github.com/getmockd/polyd/pkg/web"
	"github.com/getmockd/polyd/pkg/websocket"
)

// EchoMethod is the gRPC method answered by the bundled application.
const EchoMethod = "/polyd.Echo/Say"

// app is everything serve starts and stops.
type app struct {
	cfg     *config.ServerConfiguration
	log     *slog.Logger
	metrics *metrics.Metrics
	pool    *pool.Pool
	broker  *mqtt.Broker
	server  *server.Server

	connLimiter *ratelimit.Limiter
	reqLimiter  *ratelimit.Limiter
}

// buildApp wires the bundled services to the protocols enabled in cfg.
func buildApp(cfg *config.ServerConfiguration, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(metrics.DefaultNamespace),
		pool:    pool.New(cfg.Pool, pool.WithLogger(logging.Component(log, "pool"))),
	}
	if err := a.metrics.Register(pool.NewCollector(a.pool, metrics.DefaultNamespace, nil)); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	var cert *ptls.Certificate
	if cfg.TLS.Enabled() {
		var err error
		if cert, err = cfg.TLS.Certificate(); err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
	}

	if l := cfg.Limits; l.ConnectionRate > 0 {
		a.connLimiter = ratelimit.New(ratelimit.Config{Rate: l.ConnectionRate, Burst: l.ConnectionBurst})
	}
	if l := cfg.Limits; l.RequestRate > 0 {
		a.reqLimiter = ratelimit.New(ratelimit.Config{Rate: l.RequestRate, Burst: l.RequestBurst})
	}

	tracer := tracing.Tracer()
	webSvc := web.NewService(
		web.WithLogger(logging.Component(log, "web")),
		web.WithMaxBody(cfg.MaxBodyBytes),
		web.WithMiddleware(
			middleware.Recover[*web.Context](log),
			ratelimit.Middleware(a.reqLimiter),
			tracing.ServerMiddleware(),
			middleware.Tracing(tracer, func(c *web.Context) string { return c.Request.Method + " " + c.Route }),
			middleware.Logging[*web.Context](log),
			metrics.Requests(a.metrics, "http", webStatus),
		),
	)

	var wsSvc *websocket.Service
	if cfg.Has(protocol.IDWebSocket) {
		wsSvc = websocket.NewService(
			websocket.WithLogger(logging.Component(log, "websocket")),
			websocket.WithReadLimit(cfg.MaxBodyBytes),
			websocket.WithMiddleware(
				middleware.Recover[*websocket.Context](log),
				middleware.Logging[*websocket.Context](log),
				metrics.Requests(a.metrics, protocol.IDWebSocket, wsStatus),
			),
		)
		if err := wsSvc.HandleFunc("/ws/<room>", wsEcho); err != nil {
			return nil, err
		}
	}

	if err := a.routes(webSvc, wsSvc); err != nil {
		return nil, err
	}

	var h3 *http3.Server
	if cfg.HTTP3Listen != "" {
		var err error
		h3, err = http3.New(cfg.HTTP3Listen, webSvc, cert,
			http3.WithLogger(log),
			http3.WithIdleTimeout(cfg.Timeouts.Connection),
			http3.WithMaxBody(cfg.MaxBodyBytes),
		)
		if err != nil {
			return nil, err
		}
		webSvc.Use(http3.AltSvc(h3))
	}

	reg := protocol.NewRegistry()
	for _, id := range cfg.Protocols {
		p, err := a.protocol(id, webSvc, wsSvc)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("register %s: %w", id, err)
		}
	}

	shared := protocol.NewApp(
		protocol.WithAppLogger(log),
		protocol.WithFrameTimeout(cfg.Timeouts.Frame),
		protocol.WithConnectionTimeout(cfg.Timeouts.Connection),
		protocol.WithMaxBodyBytes(cfg.MaxBodyBytes),
		protocol.WithStatic("pool", a.pool),
	)
	d := protocol.NewDispatcher(reg, shared,
		protocol.WithPeekSize(cfg.PeekSize),
		protocol.WithDetectTimeout(cfg.Timeouts.Detect),
		protocol.WithObserver(a.metrics),
		protocol.WithDispatcherLogger(logging.Component(log, "dispatcher")),
	)

	opts := []server.Option{
		server.WithLogger(log),
		server.WithShutdownTimeout(cfg.Timeouts.Shutdown),
	}
	if cert != nil {
		tlsCfg, err := ptls.ServerConfig(cert, ptls.ALPNHTTP2, ptls.ALPNHTTP1)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithTLSConfig(tlsCfg))
	}
	if h3 != nil {
		opts = append(opts, server.WithHTTP3(h3))
	}
	if a.connLimiter != nil {
		opts = append(opts, server.WithConnectionLimiter(a.connLimiter))
	}
	if cfg.MetricsListen != "" {
		opts = append(opts, server.WithMetrics(cfg.MetricsListen, a.metrics.Handler()))
	}
	a.server = server.New(d, opts...)
	return a, nil
}

// protocol returns the binding for id. gRPC has none of its own: it rides
// on HTTP/2 streams.
func (a *app) protocol(id protocol.ID, webSvc *web.Service, wsSvc *websocket.Service) (protocol.Protocol, error) {
	log := logging.Component(a.log, string(id))
	switch id {
	case protocol.IDHTTP1:
		return http1.New(webSvc, http1.WithLogger(log), http1.WithH2C(a.cfg.Has(protocol.IDHTTP2))), nil
	case protocol.IDHTTP2:
		var handler http.Handler = webSvc
		if a.cfg.Has(protocol.IDGRPC) {
			svc, err := a.grpcService()
			if err != nil {
				return nil, err
			}
			handler = grpc.Mount(svc, webSvc)
		}
		return http2.New(handler, http2.WithLogger(log), http2.WithIdleTimeout(a.cfg.Timeouts.Connection)), nil
	case protocol.IDWebSocket:
		return websocket.New(wsSvc), nil
	case protocol.IDGRPC:
		return nil, nil
	case protocol.IDMQTT:
		b, err := a.mqttBroker()
		if err != nil {
			return nil, err
		}
		return mqtt.New(b), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", id)
	}
}

// webRoute is one endpoint of the bundled HTTP service.
type webRoute struct {
	method, pattern string
	fn              func(context.Context, *web.Context) *web.Context
	mws             []web.Middleware
}

func (a *app) routes(webSvc *web.Service, wsSvc *websocket.Service) error {
	routes := []webRoute{
		{http.MethodGet, "/health", health, nil},
		{http.MethodPost, "/echo", echo, nil},
		{http.MethodGet, "/hello/<name>", hello, nil},
		{http.MethodGet, "/stats", a.stats, a.authMiddlewares()},
	}
	if wsSvc != nil {
		routes = append(routes, webRoute{http.MethodGet, "/ws/<room>", wsSvc.Upgrade, nil})
	}
	for _, r := range routes {
		if err := webSvc.HandleFunc(r.method, r.pattern, r.fn, r.mws...); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

func (a *app) authMiddlewares() []web.Middleware {
	if a.cfg.Auth.JWTSecret == "" {
		return nil
	}
	return []web.Middleware{web.BearerAuth([]byte(a.cfg.Auth.JWTSecret))}
}

func (a *app) grpcService() (*grpc.Service, error) {
	svc := grpc.NewService(
		grpc.WithLogger(logging.Component(a.log, "grpc")),
		grpc.WithMaxMessageSize(int(a.cfg.MaxBodyBytes)),
		grpc.WithMiddleware(
			middleware.Recover[*grpc.Context](a.log),
			middleware.Logging[*grpc.Context](a.log),
			metrics.Requests(a.metrics, protocol.IDGRPC, func(c *grpc.Context) string { return c.Code().String() }),
		),
	)
	say := grpc.Unary(
		func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} },
		func(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(req.GetValue()), nil
		},
	)
	if err := svc.Handle(EchoMethod, say); err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *app) mqttBroker() (*mqtt.Broker, error) {
	maxPacket := a.cfg.MQTT.MaxPacketSize
	if maxPacket == 0 && a.cfg.MaxBodyBytes > 0 && a.cfg.MaxBodyBytes <= int64(^uint32(0)) {
		maxPacket = uint32(a.cfg.MaxBodyBytes)
	}
	b, err := mqtt.NewBroker(
		mqtt.WithLogger(logging.Component(a.log, "mqtt")),
		mqtt.WithUsers(a.cfg.MQTT.Users...),
		mqtt.WithMaxPacketSize(maxPacket),
		mqtt.WithMiddleware(
			middleware.Recover[*mqtt.Context](a.log),
			middleware.Logging[*mqtt.Context](a.log),
			metrics.Requests(a.metrics, protocol.IDMQTT, mqttStatus),
		),
	)
	if err != nil {
		return nil, err
	}
	err = b.HandleFunc("echo/<id>", func(_ context.Context, c *mqtt.Context) *mqtt.Context {
		return c.Reply("echo/"+c.Param("id")+"/reply", c.Payload)
	})
	if err != nil {
		return nil, err
	}
	a.broker = b
	return b, nil
}

// run starts background work and serves until ctx is done.
func (a *app) run(ctx context.Context) error {
	if a.broker != nil {
		if err := a.broker.Start(ctx); err != nil {
			return fmt.Errorf("start mqtt broker: %w", err)
		}
	}
	go a.pool.Run(ctx)
	defer a.close()

	a.log.Info("starting polyd", "listen", a.cfg.Listen, "protocols", a.cfg.Protocols,
		"tls", a.cfg.TLS.Enabled(), "http3", a.cfg.HTTP3Listen, "metrics", a.cfg.MetricsListen)
	return a.server.ListenAndServe(ctx, a.cfg.Listen)
}

func (a *app) close() {
	_ = a.pool.Close()
	for _, l := range []*ratelimit.Limiter{a.connLimiter, a.reqLimiter} {
		if l != nil {
			l.Stop()
		}
	}
}

func health(_ context.Context, c *web.Context) *web.Context {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func echo(_ context.Context, c *web.Context) *web.Context {
	body, err := c.Body()
	if err != nil {
		c.HandleError(err)
		return c
	}
	ct := c.Request.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return c.Bytes(http.StatusOK, ct, body)
}

func hello(_ context.Context, c *web.Context) *web.Context {
	return c.Text(http.StatusOK, "hello, "+c.Param("name")+"\n")
}

func (a *app) stats(_ context.Context, c *web.Context) *web.Context {
	out := map[string]any{
		"connections": a.server.ActiveConnections(),
		"pool":        a.pool.Stats(),
	}
	if a.broker != nil {
		out["mqttClients"] = a.broker.Clients()
	}
	return c.JSON(http.StatusOK, out)
}

func wsEcho(_ context.Context, c *websocket.Context) *websocket.Context {
	return c.Reply(c.Message)
}

func webStatus(c *web.Context) string {
	if c.Response.Status == 0 {
		return strconv.Itoa(http.StatusOK)
	}
	return strconv.Itoa(c.Response.Status)
}

func wsStatus(c *websocket.Context) string {
	if err := c.Err(); err != nil {
		return protocol.KindOf(err).String()
	}
	return "ok"
}

func mqttStatus(c *mqtt.Context) string {
	switch {
	case c.Err() != nil:
		return protocol.KindOf(c.Err()).String()
	case c.Rejected():
		return "rejected"
	default:
		return "ok"
	}
}
