package protocol

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/getmockd/polyd/pkg/logging"
)

// Dispatcher defaults.
const (
	DefaultPeekSize      = 64
	DefaultDetectTimeout = 5 * time.Second
	DefaultMaxSwitches   = 8
)

// Observer receives dispatcher events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ConnectionOpened(id ID)
	ConnectionClosed(id ID, err error)
	DetectFailed()
	Switched(from, to ID)
}

// Dispatcher selects a protocol for each accepted connection and runs it,
// following switch requests until the connection ends.
type Dispatcher struct {
	registry      *Registry
	app           *App
	peekSize      int
	detectTimeout time.Duration
	maxSwitches   int
	bufferSize    int
	observer      Observer
	log           *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPeekSize sets how many bytes detection may buffer before giving up.
func WithPeekSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.peekSize = n
		}
	}
}

// WithDetectTimeout bounds the wait for detection bytes.
func WithDetectTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.detectTimeout = t }
}

// WithMaxSwitches bounds protocol switches per connection.
func WithMaxSwitches(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxSwitches = n }
}

// WithBufferSize sets the connection read/write buffer size.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.bufferSize = n }
}

// WithObserver installs an event observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher creates a dispatcher over reg. A nil app selects NewApp().
func NewDispatcher(reg *Registry, app *App, opts ...DispatcherOption) *Dispatcher {
	if app == nil {
		app = NewApp()
	}
	d := &Dispatcher{
		registry:      reg,
		app:           app,
		peekSize:      DefaultPeekSize,
		detectTimeout: DefaultDetectTimeout,
		maxSwitches:   DefaultMaxSwitches,
		bufferSize:    DefaultBufferSize,
		log:           logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.bufferSize < d.peekSize {
		d.bufferSize = d.peekSize
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// App returns the shared application state.
func (d *Dispatcher) App() *App { return d.app }

// Serve handles nc until it ends and closes it. The returned error is the
// reason the connection was aborted; a clean end returns nil.
func (d *Dispatcher) Serve(ctx context.Context, nc net.Conn) error {
	conn := NewConn(nc, d.bufferSize)
	defer conn.Close()

	p, err := d.detect(conn)
	if err != nil {
		if d.observer != nil {
			d.observer.DetectFailed()
		}
		d.log.Debug("protocol detection failed", "conn", conn.ID(), "remote", remoteAddr(nc), "error", err)
		return err
	}

	if d.observer != nil {
		d.observer.ConnectionOpened(p.ID())
	}
	err = d.run(ctx, conn, p)
	if d.observer != nil {
		d.observer.ConnectionClosed(conn.Protocol(), err)
	}
	return err
}

func (d *Dispatcher) detect(conn *Conn) (Protocol, error) {
	if p, ok := d.registry.single(); ok {
		return p, nil
	}

	if d.detectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d.detectTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	want := 1
	for {
		buf, err := conn.Peek(want)
		if len(buf) > 0 {
			if p := d.registry.Detect(conn.Buffered()); p != nil {
				return p, nil
			}
		}
		if err != nil {
			if len(buf) == 0 && IsClosed(err) {
				return nil, Wrap(KindClosed, err)
			}
			if KindOf(err) == KindTimeout {
				return nil, Errorf(KindUnrecognizedProtocol, "no match within %s (%d bytes)", d.detectTimeout, len(buf))
			}
			return nil, Errorf(KindUnrecognizedProtocol, "no match in %d bytes: %v", len(buf), err)
		}
		n := len(conn.Buffered())
		if n >= d.peekSize {
			return nil, Errorf(KindUnrecognizedProtocol, "no match in %d bytes", n)
		}
		want = n + 1
	}
}

func (d *Dispatcher) run(ctx context.Context, conn *Conn, p Protocol) error {
	conn.SetStatus(Established)
	switches := 0
	for {
		conn.setProtocol(p.ID())
		status, err := p.Handle(ctx, conn, d.app)
		if err != nil {
			if IsClosed(err) {
				return nil
			}
			return err
		}

		target, ok := status.ShouldSwitch()
		if !ok {
			conn.SetStatus(status)
			return nil
		}
		if err := conn.Flush(); err != nil {
			return Classify(err)
		}

		next, found := d.registry.Get(target)
		if !found {
			return Errorf(KindProtocol, "%s requested switch to unregistered protocol %q", p.ID(), target)
		}
		switches++
		if d.maxSwitches > 0 && switches > d.maxSwitches {
			return Errorf(KindProtocol, "exceeded %d protocol switches", d.maxSwitches)
		}

		d.log.Debug("protocol switch", "conn", conn.ID(), "from", p.ID(), "to", target)
		if d.observer != nil {
			d.observer.Switched(p.ID(), target)
		}
		conn.SetStatus(Upgraded)
		p = next
	}
}

// LogOutcome logs the result of Serve at a level matching its kind.
func LogOutcome(log *slog.Logger, remote string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		log.Debug("connection cancelled", "remote", remote)
	case KindOf(err) == KindUnrecognizedProtocol:
		log.Warn("rejected connection", "remote", remote, "error", err)
	default:
		log.Error("connection aborted", "remote", remote, "kind", KindOf(err).String(), "error", err)
	}
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
