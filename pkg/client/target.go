package client

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/getmockd/polyd/pkg/pool"
	"github.com/getmockd/polyd/pkg/protocol"
)

// Target is a parsed outbound URL.
type Target struct {
	Scheme string
	Host   string
	Port   uint16
	// Path holds the escaped path and query, "/" when empty.
	Path string
	TLS  bool
}

var schemes = map[string]struct {
	port uint16
	tls  bool
}{
	"http":  {80, false},
	"https": {443, true},
	"ws":    {80, false},
	"wss":   {443, true},
}

// ParseTarget parses raw, which needs a scheme (http, https, ws or wss)
// and an authority. The port defaults to 80 or 443.
func ParseTarget(raw string) (Target, error) {
	if !strings.Contains(raw, "://") {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "missing scheme in %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "invalid url %q: %v", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "missing scheme in %q", raw)
	}
	def, ok := schemes[scheme]
	if !ok {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "unsupported scheme %q in %q", scheme, raw)
	}
	if u.Host == "" || u.Hostname() == "" {
		return Target{}, protocol.Errorf(protocol.KindBadRequest, "missing authority in %q", raw)
	}

	t := Target{
		Scheme: scheme,
		Host:   u.Hostname(),
		Port:   def.port,
		Path:   u.EscapedPath(),
		TLS:    def.tls,
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return Target{}, protocol.Errorf(protocol.KindBadRequest, "invalid port %q in %q", p, raw)
		}
		t.Port = uint16(n)
	}
	if t.Path == "" {
		t.Path = "/"
	}
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}
	return t, nil
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Authority returns the Host header value, omitting the scheme's default
// port.
func (t Target) Authority() string {
	if def, ok := schemes[t.Scheme]; ok && def.port == t.Port {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return t.Addr()
}

// URL reassembles the target.
func (t Target) URL() string {
	return t.Scheme + "://" + t.Authority() + t.Path
}

// WithPath returns a copy of t with its path replaced.
func (t Target) WithPath(path string) Target {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	t.Path = path
	return t
}

// Key returns the pool fingerprint for connections speaking proto.
func (t Target) Key(proto string) pool.Key {
	return pool.Key{Host: t.Host, Port: t.Port, Protocol: proto, TLS: t.TLS}
}
