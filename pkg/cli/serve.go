package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/polyd/pkg/config"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/tracing"
)

// serveFlags holds the flag values of the serve command.
type serveFlags struct {
	configFile string
	listen     string
	http3      string
	metrics    string
	protocols  string
	logLevel   string
	logFormat  string
	tlsCert    string
	tlsKey     string
	tlsAuto    bool
	jwtSecret  string
	connRate   float64
	reqRate    float64
	trace      bool
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the multi-protocol server (foreground)",
	Long: `Start polyd on one TCP port. Each connection is handed to the first
enabled protocol whose signature matches its opening bytes; --protocols sets
the order.`,
	Example: `  # Start with defaults on :8080
  polyd serve

  # Start from a config file, overriding the port
  polyd serve --config polyd.yaml --listen :9000

  # Only HTTP and MQTT
  polyd serve --protocols http1,http2,mqtt

  # TLS on the shared port plus HTTP/3 on UDP 8443
  polyd serve --tls-auto --http3 :8443

  # Expose Prometheus metrics
  polyd serve --metrics :9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd, &serveFlagVals)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to YAML configuration file")
	serveCmd.Flags().StringVarP(&f.listen, "listen", "l", "", "TCP listen address (default :8080)")
	serveCmd.Flags().StringVar(&f.http3, "http3", "", "UDP listen address for HTTP/3 (requires TLS)")
	serveCmd.Flags().StringVar(&f.metrics, "metrics", "", "Listen address for the Prometheus /metrics endpoint")
	serveCmd.Flags().StringVar(&f.protocols, "protocols", "", "Comma-separated detection order (http1,http2,websocket,grpc,mqtt)")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
	serveCmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "Path to TLS private key file")
	serveCmd.Flags().BoolVar(&f.tlsAuto, "tls-auto", false, "Auto-generate self-signed certificate")
	serveCmd.Flags().StringVar(&f.jwtSecret, "jwt-secret", "", "HMAC secret protecting /stats (or set POLYD_JWT_SECRET)")
	serveCmd.Flags().Float64Var(&f.connRate, "conn-rate", 0, "New connections per second admitted per client IP (0 = unlimited)")
	serveCmd.Flags().Float64Var(&f.reqRate, "request-rate", 0, "HTTP requests per second admitted per client IP (0 = unlimited)")
	serveCmd.Flags().BoolVar(&f.trace, "trace", false, "Write OpenTelemetry spans to stdout")
}

// resolveConfig loads the configuration file, if any, and applies the flags
// the user set explicitly.
func resolveConfig(cmd *cobra.Command, f *serveFlags) (*config.ServerConfiguration, error) {
	cfg := config.DefaultServerConfiguration()
	if f.configFile != "" {
		loaded, err := config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("http3") {
		cfg.HTTP3Listen = f.http3
	}
	if changed("metrics") {
		cfg.MetricsListen = f.metrics
	}
	if changed("protocols") {
		cfg.Protocols = parseProtocols(f.protocols)
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("tls-cert") {
		cfg.TLS.CertFile = f.tlsCert
	}
	if changed("tls-key") {
		cfg.TLS.KeyFile = f.tlsKey
	}
	if changed("tls-auto") {
		cfg.TLS.AutoCert = f.tlsAuto
	}
	if changed("jwt-secret") {
		cfg.Auth.JWTSecret = f.jwtSecret
	} else if secret := os.Getenv("POLYD_JWT_SECRET"); secret != "" && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = secret
	}

	if changed("conn-rate") {
		cfg.Limits.ConnectionRate = f.connRate
	}
	if changed("request-rate") {
		cfg.Limits.RequestRate = f.reqRate
	}
	if changed("trace") {
		cfg.Tracing.Enabled = f.trace
		if f.trace && cfg.Tracing.Exporter == "" {
			cfg.Tracing.Exporter = tracing.ExporterStdout
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseProtocols(s string) []protocol.ID {
	var ids []protocol.ID
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, protocol.ID(strings.ToLower(part)))
		}
	}
	return ids
}

// runServe serves cfg until ctx is done.
func runServe(ctx context.Context, cfg *config.ServerConfiguration) error {
	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	stopTracing, err := tracing.Setup(cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	if err := a.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLogger logs to stderr, and also as JSON to the configured file.
func newLogger(c config.LogConfig) (*slog.Logger, func(), error) {
	level := logging.ParseLevel(c.Level)
	stderr := logging.Handler(logging.Config{Level: level, Format: logging.ParseFormat(c.Format), Output: os.Stderr})
	if c.File == "" {
		return slog.New(stderr), func() {}, nil
	}

	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	file := logging.Handler(logging.Config{Level: level, Format: logging.FormatJSON, Output: f})
	return slog.New(logging.NewFanout(stderr, file)), func() { _ = f.Close() }, nil
}
