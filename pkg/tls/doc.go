// Package tls loads or generates the certificates polyd serves with and
// builds the crypto/tls configurations for its listeners and clients.
//
// Without configured certificate files, a self-signed ECDSA P-256
// certificate for localhost is generated on startup, or persisted under a
// directory with EnsureCertificate.
package tls
