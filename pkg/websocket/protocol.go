package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

// Protocol serves WebSocket connections switched from HTTP/1.
type Protocol struct {
	service *Service
	log     *slog.Logger
}

// New creates the WebSocket protocol serving svc.
func New(svc *Service) *Protocol {
	return &Protocol{service: svc, log: logging.Component(svc.log, "websocket")}
}

// ID implements protocol.Protocol.
func (p *Protocol) ID() protocol.ID { return protocol.IDWebSocket }

// Role implements protocol.Protocol.
func (p *Protocol) Role() protocol.Role { return protocol.RoleServer }

// Detect implements protocol.Protocol. WebSocket is only reached by
// switch.
func (p *Protocol) Detect([]byte) bool { return false }

// Handle implements protocol.Protocol.
func (p *Protocol) Handle(ctx context.Context, conn *protocol.Conn, app *protocol.App) (protocol.Status, error) {
	req, ok := conn.Handoff().(*http.Request)
	if !ok || req == nil {
		return protocol.Stopped, protocol.Errorf(protocol.KindProtocol, "websocket: switched without an upgrade request")
	}

	w := newHijackWriter(conn, req)
	_, params, chain, found := p.service.lookup(req.URL.Path)
	if !found {
		http.Error(w, "no websocket endpoint", http.StatusNotFound)
		return protocol.Stopped, w.finish()
	}

	wc, err := ws.Accept(w, req, p.service.acceptOptions())
	if err != nil {
		_ = w.finish()
		return protocol.Stopped, protocol.Wrap(protocol.KindBadRequest, err)
	}
	defer func() { _ = wc.CloseNow() }()

	limit := p.service.readLimit
	if limit <= 0 {
		limit = app.MaxBodyBytes
	}
	if limit > 0 {
		wc.SetReadLimit(limit)
	}
	p.log.Debug("websocket connected", "conn", conn.ID(), "path", req.URL.Path, "subprotocol", wc.Subprotocol())

	for {
		typ, data, err := wc.Read(ctx)
		if err != nil {
			if isNormalClose(err) || ctx.Err() != nil {
				return protocol.Stopped, nil
			}
			if ws.CloseStatus(err) != -1 {
				p.log.Debug("websocket closed by peer", "conn", conn.ID(), "status", ws.CloseStatus(err))
				return protocol.Stopped, nil
			}
			return protocol.Stopped, protocol.Classify(err)
		}
		conn.FramePassed()

		c := NewContext(req, conn.ID(), Message{Type: typ, Data: data})
		c.Extensions().SetParams(params)
		c = chain.Run(ctx, c)

		for _, m := range c.Replies() {
			if err := wc.Write(ctx, m.Type, m.Data); err != nil {
				return protocol.Stopped, protocol.Classify(err)
			}
		}
		if code, reason, closing := c.Closing(); closing {
			_ = wc.Close(code, reason)
			return protocol.Stopped, c.Err()
		}
	}
}
