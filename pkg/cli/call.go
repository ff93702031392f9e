package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/getmockd/polyd/pkg/client"
	"github.com/getmockd/polyd/pkg/http1"
	"github.com/getmockd/polyd/pkg/pool"
)

type callFlags struct {
	method  string
	data    string
	headers []string
	timeout time.Duration
	retries int
}

var callFlagVals callFlags

var callCmd = &cobra.Command{
	Use:   "call URL",
	Short: "Send one request through the client connection pool",
	Long: `Send an HTTP/1 request, or one WebSocket text message, using the same
pooled client stack applications use for outbound calls.`,
	Example: `  polyd call http://localhost:8080/hello/world
  polyd call -X POST -d '{"a":1}' -H 'Content-Type: application/json' http://localhost:8080/echo
  polyd call -d ping ws://localhost:8080/ws/lobby`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), callFlagVals.timeout)
		defer cancel()
		return runCall(ctx, cmd.OutOrStdout(), args[0], &callFlagVals)
	},
}

func initCallCmd() {
	rootCmd.AddCommand(callCmd)

	f := &callFlagVals
	callCmd.Flags().StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method")
	callCmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body, or the WebSocket message")
	callCmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	callCmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Overall timeout")
	callCmd.Flags().IntVar(&f.retries, "retries", 0, "Retries on connection failures")
}

// callResult is the JSON shape of `polyd call --json`.
type callResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

func runCall(ctx context.Context, out io.Writer, rawURL string, f *callFlags) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	header, err := parseHeaders(f.headers)
	if err != nil {
		return err
	}

	p := pool.New(pool.DefaultConfig())
	defer func() { _ = p.Close() }()

	policy := client.DefaultRetryPolicy()
	policy.Attempts = f.retries + 1

	var result callResult
	err = client.Retry(ctx, policy, func(ctx context.Context) error {
		var err error
		switch u.Scheme {
		case "ws", "wss":
			result, err = callWebSocket(ctx, p, rawURL, header, f.data)
		default:
			result, err = callHTTP(ctx, p, rawURL, header, f)
		}
		return err
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result.Status != 0 {
		if _, err := fmt.Fprintf(out, "%d %s\n", result.Status, http.StatusText(result.Status)); err != nil {
			return err
		}
	}
	_, err = io.WriteString(out, result.Body)
	return err
}

func callHTTP(ctx context.Context, p *pool.Pool, rawURL string, header http.Header, f *callFlags) (callResult, error) {
	caller := client.NewHTTPCaller(p)
	var body io.Reader = http.NoBody
	if f.data != "" {
		body = strings.NewReader(f.data)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(f.method), rawURL, body)
	if err != nil {
		return callResult{}, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}

	c := caller.Serve(ctx, http1.NewClientContext(req))
	if err := c.Err(); err != nil {
		return callResult{}, err
	}
	res := callResult{Status: c.Response.StatusCode, Body: string(c.Body), Headers: map[string]string{}}
	for k := range c.Response.Header {
		res.Headers[k] = c.Response.Header.Get(k)
	}
	return res, nil
}

func callWebSocket(ctx context.Context, p *pool.Pool, rawURL string, header http.Header, msg string) (callResult, error) {
	conn, _, err := client.DialWebSocket(ctx, p, rawURL, header)
	if err != nil {
		return callResult{}, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteMessage(gws.TextMessage, []byte(msg)); err != nil {
		return callResult{}, err
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return callResult{}, err
	}
	_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
	return callResult{Body: string(reply) + "\n"}, nil
}

func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}
