package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the certificate and key to PEM files. The key file is only
// readable by the owner.
func (c *Certificate) Save(certPath, keyPath string) error {
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(certPath, c.CertPEM, 0o644); err != nil { //nolint:gosec // certificates are public
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := os.WriteFile(keyPath, c.KeyPEM, 0o600); err != nil {
		_ = os.Remove(certPath)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Load reads a certificate and key from PEM files.
func Load(certPath, keyPath string) (*Certificate, error) {
	certPEM, err := os.ReadFile(certPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParsePEM(certPEM, keyPEM)
}

// EnsureCertificate loads the pair at the given paths, generating and
// saving a new one when either file is missing.
func EnsureCertificate(cfg *CertificateConfig, certPath, keyPath string) (*Certificate, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr == nil && keyErr == nil {
		return Load(certPath, keyPath)
	}
	if certErr != nil && !errors.Is(certErr, os.ErrNotExist) {
		return nil, certErr
	}

	cert, err := GenerateSelfSigned(cfg)
	if err != nil {
		return nil, err
	}
	if err := cert.Save(certPath, keyPath); err != nil {
		return nil, err
	}
	return cert, nil
}

// TLSCertificate converts c for use in a tls.Config.
func (c *Certificate) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(c.CertPEM, c.KeyPEM)
}
