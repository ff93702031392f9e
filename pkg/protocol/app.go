package protocol

import (
	"log/slog"
	"time"

	"github.com/getmockd/polyd/pkg/logging"
)

// Defaults for App.
const (
	DefaultFrameTimeout      = 5 * time.Second
	DefaultConnectionTimeout = 30 * time.Second
	DefaultMaxBodyBytes      = 10 << 20
)

// App is the shared application state handed to every Handle call.
type App struct {
	// Log receives connection-level events.
	Log *slog.Logger

	// FrameTimeout bounds the wait for one complete inbound frame or
	// request head. Zero disables it.
	FrameTimeout time.Duration

	// ConnectionTimeout bounds idle time between requests on a keep-alive
	// connection. Zero disables it.
	ConnectionTimeout time.Duration

	// MaxBodyBytes caps inbound payloads.
	MaxBodyBytes int64

	// Statics are application-wide values readable by every protocol.
	Statics *Extensions
}

// AppOption configures an App.
type AppOption func(*App)

// WithAppLogger sets the logger.
func WithAppLogger(log *slog.Logger) AppOption {
	return func(a *App) {
		if log != nil {
			a.Log = log
		}
	}
}

// WithFrameTimeout sets the frame timeout.
func WithFrameTimeout(d time.Duration) AppOption {
	return func(a *App) { a.FrameTimeout = d }
}

// WithConnectionTimeout sets the idle connection timeout.
func WithConnectionTimeout(d time.Duration) AppOption {
	return func(a *App) { a.ConnectionTimeout = d }
}

// WithMaxBodyBytes sets the inbound payload limit.
func WithMaxBodyBytes(n int64) AppOption {
	return func(a *App) { a.MaxBodyBytes = n }
}

// WithStatic stores an application-wide value.
func WithStatic(key string, value any) AppOption {
	return func(a *App) { a.Statics.Set(key, value) }
}

// NewApp returns an App with defaults applied.
func NewApp(opts ...AppOption) *App {
	a := &App{
		Log:               logging.Nop(),
		FrameTimeout:      DefaultFrameTimeout,
		ConnectionTimeout: DefaultConnectionTimeout,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		Statics:           NewExtensions(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
