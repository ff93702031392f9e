package http1

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/polyd/pkg/protocol"
	"github.com/getmockd/polyd/pkg/web"
)

// startServer serves svc over a loopback listener and returns its address
// and a channel receiving each connection's Serve result.
func startServer(t *testing.T, svc *web.Service, app *protocol.App, opts ...Option) (string, <-chan error) {
	t.Helper()
	reg := protocol.NewRegistry()
	require.NoError(t, reg.Register(New(svc, opts...)))
	d := protocol.NewDispatcher(reg, app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	results := make(chan error, 16)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { results <- d.Serve(context.Background(), c) }()
		}
	}()
	return ln.Addr().String(), results
}

func echoService(t *testing.T) *web.Service {
	t.Helper()
	svc := web.NewService(web.WithMaxBody(16))
	require.NoError(t, svc.HandleFunc(http.MethodGet, "/hello/<name>", func(_ context.Context, c *web.Context) *web.Context {
		return c.Text(http.StatusOK, "hello "+c.Param("name"))
	}))
	require.NoError(t, svc.HandleFunc(http.MethodPost, "/echo", func(_ context.Context, c *web.Context) *web.Context {
		b, err := c.Body()
		if err != nil {
			c.HandleError(err)
			return c
		}
		return c.Bytes(http.StatusOK, "application/octet-stream", b)
	}))
	require.NoError(t, svc.HandleFunc(http.MethodPost, "/ignore", func(_ context.Context, c *web.Context) *web.Context {
		return c.Text(http.StatusAccepted, "ignored")
	}))
	return svc
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

func readResponse(t *testing.T, br *bufio.Reader, method string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestDetect(t *testing.T) {
	assert.True(t, Detect([]byte("GET / HTTP/1.1\r\n")))
	assert.True(t, Detect([]byte("OPTIONS ")))
	assert.False(t, Detect([]byte("GET")), "truncated")
	assert.False(t, Detect([]byte("PRI * HTTP/2.0\r\n")))
	assert.False(t, Detect([]byte{0x10, 0x0c, 0x00, 0x04}))
}

func TestServer_KeepAlive(t *testing.T) {
	addr, _ := startServer(t, echoService(t), nil)
	conn, br := dial(t, addr)

	_, err := io.WriteString(conn, "GET /hello/ann HTTP/1.1\r\nHost: x\r\n\r\nGET /hello/bob HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)

	resp, body := readResponse(t, br, http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello ann", body)
	assert.False(t, resp.Close)
	assert.NotEmpty(t, resp.Header.Get("Date"))

	resp, body = readResponse(t, br, http.MethodGet)
	assert.Equal(t, "hello bob", body)
}

func TestServer_HTTPClient(t *testing.T) {
	addr, _ := startServer(t, echoService(t), nil)

	resp, err := http.Post("http://"+addr+"/echo", "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(b))

	resp, err = http.Get("http://" + addr + "/nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/echo")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))
}

func TestServer_ConnectionClose(t *testing.T) {
	addr, results := startServer(t, echoService(t), nil)
	conn, br := dial(t, addr)

	_, err := io.WriteString(conn, "GET /hello/x HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	resp, _ := readResponse(t, br, http.MethodGet)
	assert.True(t, resp.Close)
	_, err = br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, <-results)
}

func TestServer_PayloadTooLarge(t *testing.T) {
	addr, _ := startServer(t, echoService(t), nil)
	conn, br := dial(t, addr)

	body := strings.Repeat("x", 64)
	_, err := io.WriteString(conn, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 64\r\n\r\n"+body)
	require.NoError(t, err)

	resp, _ := readResponse(t, br, http.MethodPost)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestServer_UnreadBodyIsDrained(t *testing.T) {
	addr, _ := startServer(t, echoService(t), nil)
	conn, br := dial(t, addr)

	_, err := io.WriteString(conn, "POST /ignore HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\n\r\nbodyGET /hello/z HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)

	resp, body := readResponse(t, br, http.MethodPost)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", body)

	_, body = readResponse(t, br, http.MethodGet)
	assert.Equal(t, "hello z", body)
}

func TestServer_MalformedRequest(t *testing.T) {
	addr, results := startServer(t, echoService(t), nil)
	conn, br := dial(t, addr)

	_, err := io.WriteString(conn, "GET /\r\n\r\n")
	require.NoError(t, err)

	resp, _ := readResponse(t, br, http.MethodGet)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	err = <-results
	assert.Equal(t, protocol.KindMalformedFrame, protocol.KindOf(err))
}

func TestServer_IdleTimeoutClosesCleanly(t *testing.T) {
	app := protocol.NewApp(protocol.WithConnectionTimeout(50 * time.Millisecond))
	addr, results := startServer(t, echoService(t), app)
	conn, br := dial(t, addr)

	_, err := io.WriteString(conn, "GET /hello/a HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	readResponse(t, br, http.MethodGet)

	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestServer_SwitchRequestedByEndpoint(t *testing.T) {
	svc := web.NewService()
	require.NoError(t, svc.HandleFunc(http.MethodGet, "/raw", func(_ context.Context, c *web.Context) *web.Context {
		c.Response.Status = http.StatusSwitchingProtocols
		c.Response.Header.Set("Connection", "Upgrade")
		c.Response.Header.Set("Upgrade", "echo")
		c.SwitchProtocol("echo")
		return c
	}))

	var handoff any
	reg := protocol.NewRegistry()
	require.NoError(t, reg.Register(New(svc)))
	require.NoError(t, reg.Register(&echoProtocol{handoff: &handoff}))

	server, client := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- protocol.NewDispatcher(reg, nil).Serve(context.Background(), server) }()

	go func() { _, _ = io.WriteString(client, "GET /raw HTTP/1.1\r\nHost: x\r\n\r\nafter-upgrade\n") }()

	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "echo", resp.Header.Get("Upgrade"))

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: after-upgrade\n", line)
	require.NoError(t, <-done)

	req, ok := handoff.(*http.Request)
	require.True(t, ok)
	assert.Equal(t, "/raw", req.URL.Path)
}

// echoProtocol echoes one line after a switch.
type echoProtocol struct {
	handoff *any
}

func (e *echoProtocol) ID() protocol.ID     { return "echo" }
func (e *echoProtocol) Role() protocol.Role { return protocol.RoleServer }
func (e *echoProtocol) Detect([]byte) bool  { return false }

func (e *echoProtocol) Handle(_ context.Context, conn *protocol.Conn, _ *protocol.App) (protocol.Status, error) {
	*e.handoff = conn.Handoff()
	line, err := conn.Reader().ReadString('\n')
	if err != nil {
		return protocol.Stopped, err
	}
	_, _ = conn.Writer().WriteString("echo: " + line)
	return protocol.Stopped, conn.Flush()
}
