package config

import (
	"fmt"
	"net"
	"os"

	"github.com/getmockd/polyd/pkg/protocol"
)

// ValidationError represents a validation failure with context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// validateFilePath checks that a non-empty path names an existing file.
func validateFilePath(path, fieldName string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("file does not exist: %s", path),
			}
		}
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot access file: %s", err.Error()),
		}
	}
	if info.IsDir() {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("path is a directory, not a file: %s", path),
		}
	}
	return nil
}

func validateAddr(addr, fieldName string, required bool) error {
	if addr == "" {
		if required {
			return &ValidationError{Field: fieldName, Message: "address is required"}
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("invalid address %q: %s", addr, err.Error()),
		}
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *ServerConfiguration) Validate() error {
	if err := validateAddr(c.Listen, "listen", true); err != nil {
		return err
	}
	if err := validateAddr(c.HTTP3Listen, "http3Listen", false); err != nil {
		return err
	}
	if err := validateAddr(c.MetricsListen, "metricsListen", false); err != nil {
		return err
	}

	if len(c.Protocols) == 0 {
		return &ValidationError{Field: "protocols", Message: "at least one protocol is required"}
	}
	seen := make(map[string]bool, len(c.Protocols))
	for i, id := range c.Protocols {
		field := fmt.Sprintf("protocols[%d]", i)
		if !KnownProtocols[id] {
			return &ValidationError{Field: field, Message: fmt.Sprintf("unknown protocol %q", id)}
		}
		if seen[string(id)] {
			return &ValidationError{Field: field, Message: fmt.Sprintf("duplicate protocol %q", id)}
		}
		seen[string(id)] = true
	}
	// gRPC is served on HTTP/2 streams and WebSocket by switch from HTTP/1.
	if seen[string(protocol.IDGRPC)] && !seen[string(protocol.IDHTTP2)] {
		return &ValidationError{Field: "protocols", Message: "grpc requires http2"}
	}
	if seen[string(protocol.IDWebSocket)] && !seen[string(protocol.IDHTTP1)] {
		return &ValidationError{Field: "protocols", Message: "websocket requires http1"}
	}

	if c.TLS.CertFile != "" || c.TLS.KeyFile != "" {
		if c.TLS.CertFile == "" {
			return &ValidationError{Field: "tls.certFile", Message: "certFile is required when keyFile is set"}
		}
		if c.TLS.KeyFile == "" {
			return &ValidationError{Field: "tls.keyFile", Message: "keyFile is required when certFile is set"}
		}
		// autoCert creates missing files on start.
		if !c.TLS.AutoCert {
			if err := validateFilePath(c.TLS.CertFile, "tls.certFile"); err != nil {
				return err
			}
			if err := validateFilePath(c.TLS.KeyFile, "tls.keyFile"); err != nil {
				return err
			}
		}
	}
	if c.HTTP3Listen != "" && !c.TLS.Enabled() {
		return &ValidationError{Field: "http3Listen", Message: "HTTP/3 requires tls"}
	}

	durations := []struct {
		field string
		value int64
	}{
		{"timeouts.detect", int64(c.Timeouts.Detect)},
		{"timeouts.frame", int64(c.Timeouts.Frame)},
		{"timeouts.connection", int64(c.Timeouts.Connection)},
		{"timeouts.shutdown", int64(c.Timeouts.Shutdown)},
		{"pool.idleTimeout", int64(c.Pool.IdleTimeout)},
		{"pool.maxLifetime", int64(c.Pool.MaxLifetime)},
		{"pool.dialTimeout", int64(c.Pool.DialTimeout)},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &ValidationError{Field: d.field, Message: "must not be negative"}
		}
	}

	if c.MaxBodyBytes <= 0 {
		return &ValidationError{Field: "maxBodyBytes", Message: "must be positive"}
	}
	if c.PeekSize <= 0 {
		return &ValidationError{Field: "peekSize", Message: "must be positive"}
	}
	if c.Pool.MaxConnsPerKey < 0 || c.Pool.MaxIdlePerKey < 0 {
		return &ValidationError{Field: "pool", Message: "limits must not be negative"}
	}

	if c.Limits.ConnectionRate < 0 || c.Limits.ConnectionBurst < 0 {
		return &ValidationError{Field: "limits.connectionRate", Message: "must not be negative"}
	}
	if c.Limits.RequestRate < 0 || c.Limits.RequestBurst < 0 {
		return &ValidationError{Field: "limits.requestRate", Message: "must not be negative"}
	}
	if err := c.Tracing.Validate(); err != nil {
		return &ValidationError{Field: "tracing", Message: err.Error()}
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("invalid format %q (must be text or json)", c.Log.Format)}
	}

	for i, u := range c.MQTT.Users {
		if u.Username == "" {
			return &ValidationError{Field: fmt.Sprintf("mqtt.users[%d].username", i), Message: "username is required"}
		}
	}
	return nil
}
