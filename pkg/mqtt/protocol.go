package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

// Protocol hands detected MQTT connections to a Broker.
type Protocol struct {
	broker *Broker
	log    *slog.Logger
}

// New creates the MQTT protocol backed by b.
func New(b *Broker) *Protocol {
	return &Protocol{broker: b, log: logging.Component(b.log, "mqtt")}
}

// ID implements protocol.Protocol.
func (p *Protocol) ID() protocol.ID { return protocol.IDMQTT }

// Role implements protocol.Protocol.
func (p *Protocol) Role() protocol.Role { return protocol.RoleServer }

// Detect implements protocol.Protocol.
func (p *Protocol) Detect(initial []byte) bool { return Detect(initial) }

// Broker returns the broker.
func (p *Protocol) Broker() *Broker { return p.broker }

// Handle implements protocol.Protocol. It blocks until the client
// disconnects; keep-alive is enforced by the broker.
func (p *Protocol) Handle(ctx context.Context, conn *protocol.Conn, _ *protocol.App) (protocol.Status, error) {
	if p.broker.closed.Load() {
		return protocol.Stopped, protocol.Errorf(protocol.KindClosed, "mqtt: broker is closed")
	}
	_ = conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := p.broker.server.EstablishConnection(ListenerID, conn)
	if err == nil || ctx.Err() != nil || normalDisconnect(err) {
		return protocol.Stopped, nil
	}
	p.log.Debug("mqtt client dropped", "conn", conn.ID(), "error", err)
	return protocol.Stopped, protocol.Wrap(protocol.KindProtocol, err)
}

// Shutdown closes the broker, disconnecting its clients.
func (p *Protocol) Shutdown(context.Context) error {
	return p.broker.Close()
}

// normalDisconnect reports whether err ends a session without failure:
// a peer close or a reason code below 0x80.
func normalDisconnect(err error) bool {
	if protocol.IsClosed(err) {
		return true
	}
	var code packets.Code
	return errors.As(err, &code) && code.Code < 0x80
}
