package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	cert, err := GenerateSelfSigned(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cert.Leaf.Subject.CommonName)
	assert.Contains(t, cert.Leaf.DNSNames, "localhost")
	assert.Contains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	require.NoError(t, cert.Leaf.VerifyHostname("127.0.0.1"))

	again, err := ParsePEM(cert.CertPEM, cert.KeyPEM)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.SerialNumber, again.Leaf.SerialNumber)
}

func TestParsePEM_Mismatch(t *testing.T) {
	a, err := GenerateSelfSigned(nil)
	require.NoError(t, err)
	b, err := GenerateSelfSigned(nil)
	require.NoError(t, err)

	_, err = ParsePEM(a.CertPEM, b.KeyPEM)
	assert.Error(t, err)

	_, err = ParsePEM([]byte("garbage"), a.KeyPEM)
	assert.Error(t, err)
	_, err = ParsePEM(a.CertPEM, a.CertPEM)
	assert.Error(t, err)
}

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "nested", "server.crt")
	keyPath := filepath.Join(dir, "nested", "server.key")

	first, err := EnsureCertificate(nil, certPath, keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := EnsureCertificate(nil, certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, first.Leaf.SerialNumber, second.Leaf.SerialNumber)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.crt"), "none.key")
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.False(t, Options{CertFile: "a"}.Enabled())
	assert.True(t, Options{AutoCert: true}.Enabled())

	_, err := Options{}.Certificate()
	assert.Error(t, err)

	cert, err := Options{AutoCert: true}.Certificate()
	require.NoError(t, err)
	assert.NotNil(t, cert.Key)

	dir := t.TempDir()
	persisted := Options{
		CertFile: filepath.Join(dir, "server.crt"),
		KeyFile:  filepath.Join(dir, "server.key"),
		AutoCert: true,
	}
	first, err := persisted.Certificate()
	require.NoError(t, err)
	persisted.AutoCert = false
	second, err := persisted.Certificate()
	require.NoError(t, err)
	assert.Equal(t, first.Leaf.SerialNumber, second.Leaf.SerialNumber)
}

func TestServerConfig_Handshake(t *testing.T) {
	cert, err := GenerateSelfSigned(nil)
	require.NoError(t, err)
	serverCfg, err := ServerConfig(cert, ALPNHTTP2, ALPNHTTP1)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_ = c.(*tls.Conn).Handshake()
		_ = c.Close()
	}()

	clientCfg, err := ClientConfig("", ALPNHTTP2)
	require.NoError(t, err)
	clientCfg.RootCAs = TrustPool(cert)
	clientCfg.ServerName = "localhost"

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, ALPNHTTP2, conn.ConnectionState().NegotiatedProtocol)
}

func TestClientConfig_CAFile(t *testing.T) {
	cert, err := GenerateSelfSigned(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, cert.CertPEM, 0o600))

	cfg, err := ClientConfig(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)

	_, err = ClientConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}
