package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/getmockd/polyd/pkg/config"
	"github.com/getmockd/polyd/pkg/logging"
	"github.com/getmockd/polyd/pkg/protocol"
)

func TestVersion_JSON(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--json"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		jsonOutput = false
	}()

	require.NoError(t, rootCmd.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	for _, key := range []string{"version", "commit", "date", "go", "os", "arch"} {
		assert.Contains(t, info, key)
	}
	assert.Equal(t, Version, info["version"])
}

func TestParseProtocols(t *testing.T) {
	assert.Equal(t,
		[]protocol.ID{protocol.IDHTTP1, protocol.IDMQTT},
		parseProtocols(" HTTP1, ,mqtt "),
	)
	assert.Nil(t, parseProtocols(""))
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Content-Type: application/json", "X-Trace:abc"})
	require.NoError(t, err)
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "abc", h.Get("X-Trace"))

	_, err = parseHeaders([]string{"novalue"})
	assert.Error(t, err)
}

func TestResolveConfig_FlagsOverride(t *testing.T) {
	require.NoError(t, serveCmd.ParseFlags([]string{
		"--listen", "127.0.0.1:9999",
		"--protocols", "http1,websocket",
		"--log-format", "json",
		"--request-rate", "25",
		"--trace",
	}))
	defer func() {
		for _, name := range []string{"listen", "protocols", "log-format", "request-rate", "trace"} {
			_ = serveCmd.Flags().Set(name, "")
			serveCmd.Flags().Lookup(name).Changed = false
		}
		serveFlagVals = serveFlags{}
	}()

	cfg, err := resolveConfig(serveCmd, &serveFlagVals)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, []protocol.ID{protocol.IDHTTP1, protocol.IDWebSocket}, cfg.Protocols)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, protocol.DefaultPeekSize, cfg.PeekSize)
	assert.Equal(t, 25.0, cfg.Limits.RequestRate)
	assert.Zero(t, cfg.Limits.ConnectionRate)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyd.log")
	log, closeLog, err := newLogger(config.LogConfig{Level: "debug", Format: "text", File: path})
	require.NoError(t, err)
	log.Debug("to file", "component", "test")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)

	_, _, err = newLogger(config.LogConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

const testSecret = "test-secret"

// startApp serves the bundled application on a loopback port.
func startApp(t *testing.T, mutate ...func(*config.ServerConfiguration)) string {
	t.Helper()
	cfg := config.DefaultServerConfiguration()
	cfg.Listen = "127.0.0.1:0"
	cfg.Auth.JWTSecret = testSecret
	cfg.Timeouts.Shutdown = time.Second
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := buildApp(cfg, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})

	select {
	case <-a.server.Ready():
	case err := <-done:
		t.Fatalf("app stopped early: %v", err)
	}
	return a.server.Addr().String()
}

func call(t *testing.T, rawURL string, f callFlags) string {
	t.Helper()
	if f.method == "" {
		f.method = http.MethodGet
	}
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runCall(ctx, &out, rawURL, &f))
	return out.String()
}

func TestApp_HTTP(t *testing.T) {
	addr := startApp(t)

	assert.Equal(t, "200 OK\nhello, world\n", call(t, "http://"+addr+"/hello/world", callFlags{}))
	assert.Equal(t, "200 OK\nping", call(t, "http://"+addr+"/echo", callFlags{method: "post", data: "ping"}))
	assert.Contains(t, call(t, "http://"+addr+"/health", callFlags{}), `"status":"ok"`)
}

func TestApp_StatsRequiresToken(t *testing.T) {
	addr := startApp(t)

	assert.True(t, strings.HasPrefix(call(t, "http://"+addr+"/stats", callFlags{}), "401 "))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	out := call(t, "http://"+addr+"/stats", callFlags{headers: []string{"Authorization: Bearer " + token}})
	assert.True(t, strings.HasPrefix(out, "200 OK\n"), out)
	assert.Contains(t, out, `"pool"`)
}

func TestApp_RequestRateLimit(t *testing.T) {
	addr := startApp(t, func(c *config.ServerConfiguration) {
		c.Limits.RequestRate = 0.001
		c.Limits.RequestBurst = 1
	})

	assert.True(t, strings.HasPrefix(call(t, "http://"+addr+"/health", callFlags{}), "200 OK\n"))
	assert.True(t, strings.HasPrefix(call(t, "http://"+addr+"/health", callFlags{}), "429 Too Many Requests\n"))
}

func TestApp_WebSocket(t *testing.T) {
	addr := startApp(t)
	assert.Equal(t, "hi there\n", call(t, "ws://"+addr+"/ws/lobby", callFlags{data: "hi there"}))
}

func TestApp_GRPCOverHTTP2(t *testing.T) {
	addr := startApp(t)

	conn, err := ggrpc.NewClient(addr, ggrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := &wrapperspb.StringValue{}
	require.NoError(t, conn.Invoke(ctx, EchoMethod, wrapperspb.String("marco"), resp))
	assert.Equal(t, "marco", resp.GetValue())
}
