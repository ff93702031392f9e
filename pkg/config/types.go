package config

import (
	"time"

	"github.com/getmockd/polyd/pkg/mqtt"
	"github.com/getmockd/polyd/pkg/pool"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/tls"
	"github.com/getmockd/polyd/pkg/tracing"
)

// ServerConfiguration defines the runtime settings of a polyd server.
type ServerConfiguration struct {
	// Listen is the TCP address every stream protocol shares.
	Listen string `yaml:"listen"`
	// HTTP3Listen is the UDP address of the HTTP/3 endpoint. Empty
	// disables it. HTTP/3 requires TLS.
	HTTP3Listen string `yaml:"http3Listen,omitempty"`
	// MetricsListen serves /metrics when set.
	MetricsListen string `yaml:"metricsListen,omitempty"`
	// Protocols is the detection order. Unknown ids fail validation.
	Protocols []protocol.ID `yaml:"protocols"`

	TLS      tls.Options `yaml:"tls,omitempty"`
	Timeouts Timeouts    `yaml:"timeouts"`

	// MaxBodyBytes caps inbound payloads of every protocol.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	// PeekSize is the number of bytes detection may inspect.
	PeekSize int `yaml:"peekSize"`

	Pool pool.Config `yaml:"pool"`
	Log  LogConfig   `yaml:"log"`
	Auth AuthConfig  `yaml:"auth,omitempty"`
	MQTT MQTTConfig  `yaml:"mqtt,omitempty"`

	Limits  LimitsConfig   `yaml:"limits,omitempty"`
	Tracing tracing.Config `yaml:"tracing,omitempty"`
}

// Timeouts bounds the phases of a connection.
type Timeouts struct {
	// Detect bounds the wait for enough bytes to pick a protocol.
	Detect time.Duration `yaml:"detect"`
	// Frame bounds the read of one request head or frame.
	Frame time.Duration `yaml:"frame"`
	// Connection bounds idle time between requests.
	Connection time.Duration `yaml:"connection"`
	// Shutdown bounds graceful drain on stop.
	Shutdown time.Duration `yaml:"shutdown"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File additionally receives JSON records when set.
	File string `yaml:"file,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// JWTSecret is the HMAC key for HS256 tokens. Empty disables auth.
	JWTSecret string `yaml:"jwtSecret,omitempty"`
}

// MQTTConfig configures the embedded broker.
type MQTTConfig struct {
	// Users enables authentication when non-empty.
	Users []mqtt.User `yaml:"users,omitempty"`
	// MaxPacketSize caps inbound packets. Zero uses maxBodyBytes.
	MaxPacketSize uint32 `yaml:"maxPacketSize,omitempty"`
}

// LimitsConfig sets per-IP token buckets. A zero rate disables a limit.
type LimitsConfig struct {
	// ConnectionRate admits new connections per second before detection.
	ConnectionRate  float64 `yaml:"connectionRate,omitempty"`
	ConnectionBurst int     `yaml:"connectionBurst,omitempty"`
	// RequestRate admits HTTP requests per second. Excess requests get 429.
	RequestRate  float64 `yaml:"requestRate,omitempty"`
	RequestBurst int     `yaml:"requestBurst,omitempty"`
}

// DefaultProtocols is the detection order used when none is configured.
var DefaultProtocols = []protocol.ID{
	protocol.IDHTTP2,
	protocol.IDHTTP1,
	protocol.IDWebSocket,
	protocol.IDGRPC,
	protocol.IDMQTT,
}

// KnownProtocols lists the ids accepted in Protocols.
var KnownProtocols = map[protocol.ID]bool{
	protocol.IDHTTP1:     true,
	protocol.IDHTTP2:     true,
	protocol.IDWebSocket: true,
	protocol.IDGRPC:      true,
	protocol.IDMQTT:      true,
}

// DefaultServerConfiguration returns a ServerConfiguration with sensible defaults.
func DefaultServerConfiguration() *ServerConfiguration {
	return &ServerConfiguration{
		Listen:    ":8080",
		Protocols: append([]protocol.ID(nil), DefaultProtocols...),
		Timeouts: Timeouts{
			Detect:     protocol.DefaultDetectTimeout,
			Frame:      protocol.DefaultFrameTimeout,
			Connection: protocol.DefaultConnectionTimeout,
			Shutdown:   10 * time.Second,
		},
		MaxBodyBytes: protocol.DefaultMaxBodyBytes,
		PeekSize:     protocol.DefaultPeekSize,
		Pool:         pool.DefaultConfig(),
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// Has reports whether id is enabled.
func (c *ServerConfiguration) Has(id protocol.ID) bool {
	for _, p := range c.Protocols {
		if p == id {
			return true
		}
	}
	return false
}
