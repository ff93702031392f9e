package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ALPN protocol names.
const (
	ALPNHTTP1 = "http/1.1"
	ALPNHTTP2 = "h2"
	ALPNHTTP3 = "h3"
)

// Options selects the certificate of a server configuration.
type Options struct {
	CertFile string `yaml:"certFile" json:"certFile"`
	KeyFile  string `yaml:"keyFile" json:"keyFile"`
	// AutoCert generates a self-signed certificate. With files set, it is
	// generated once and saved there.
	AutoCert bool `yaml:"autoCert" json:"autoCert"`
}

// Enabled reports whether o configures TLS at all.
func (o Options) Enabled() bool {
	return o.AutoCert || (o.CertFile != "" && o.KeyFile != "")
}

// Certificate loads or generates the configured certificate.
func (o Options) Certificate() (*Certificate, error) {
	if o.CertFile != "" && o.KeyFile != "" {
		if o.AutoCert {
			return EnsureCertificate(nil, o.CertFile, o.KeyFile)
		}
		return Load(o.CertFile, o.KeyFile)
	}
	if o.AutoCert {
		return GenerateSelfSigned(nil)
	}
	return nil, fmt.Errorf("tls: no certificate configured")
}

// ServerConfig returns a server configuration advertising nextProtos via
// ALPN.
func ServerConfig(cert *Certificate, nextProtos ...string) (*tls.Config, error) {
	pair, err := cert.TLSCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
		NextProtos:   nextProtos,
	}, nil
}

// ClientConfig returns a client configuration trusting the given CA bundle
// in addition to the system roots. An empty caFile trusts system roots only.
func ClientConfig(caFile string, nextProtos ...string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: nextProtos,
	}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// TrustPool returns a pool containing only cert, for clients of a
// self-signed server.
func TrustPool(cert *Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)
	return pool
}
