package protocol

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Error is a simple error type for registry errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors for registry operations.
var (
	// ErrNilProtocol is returned when attempting to register a nil protocol.
	ErrNilProtocol = Error("protocol cannot be nil")

	// ErrEmptyProtocolID is returned when a protocol has an empty ID.
	ErrEmptyProtocolID = Error("protocol ID cannot be empty")

	// ErrProtocolExists is returned when registering a protocol with an ID
	// that is already registered.
	ErrProtocolExists = Error("protocol with this ID already exists")

	// ErrProtocolNotFound is returned when looking up an unregistered ID.
	ErrProtocolNotFound = Error("protocol not found")
)

// Kind classifies failures across servers, clients and the pool. A Kind is
// itself an error, so it can be wrapped with %w and matched with errors.Is.
type Kind uint8

// Kind constants.
const (
	KindOther Kind = iota
	KindIo
	KindTLS
	KindTimeout
	KindHostResolution
	KindAuth
	KindConnRefused
	KindClosed
	KindProtocol
	KindPoolExhausted
	KindPortRequired
	KindPayloadTooLarge
	KindMalformedFrame
	KindMethodNotAllowed
	KindBadRequest
	KindUnsupportedVersion
	KindDecode
	KindEncode
	KindInternal
	KindUnrecognizedProtocol
)

var kindNames = [...]string{
	KindOther:                "error",
	KindIo:                   "i/o error",
	KindTLS:                  "tls error",
	KindTimeout:              "connection timeout",
	KindHostResolution:       "host resolution failed",
	KindAuth:                 "authentication failed",
	KindConnRefused:          "connection refused",
	KindClosed:               "connection closed",
	KindProtocol:             "protocol error",
	KindPoolExhausted:        "connection pool exhausted",
	KindPortRequired:         "port required",
	KindPayloadTooLarge:      "payload too large",
	KindMalformedFrame:       "invalid frame format",
	KindMethodNotAllowed:     "method not allowed",
	KindBadRequest:           "bad request",
	KindUnsupportedVersion:   "unsupported protocol version",
	KindDecode:               "frame decoding error",
	KindEncode:               "frame encoding error",
	KindInternal:             "internal server error",
	KindUnrecognizedProtocol: "unrecognized protocol",
}

// Error implements the error interface.
func (k Kind) Error() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("error kind %d", k)
}

// String returns the same text as Error.
func (k Kind) String() string { return k.Error() }

// Errorf returns an error of kind k with a formatted message.
func Errorf(k Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s", k, fmt.Sprintf(format, args...))
}

// Wrap tags err with kind k. It returns nil for a nil err.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", k, err)
}

// KindOf returns the kind of the first Kind found in err's chain. Errors
// without an explicit kind are classified from their concrete type.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return classify(err)
}

// Classify tags err with a kind derived from its concrete type, unless it
// already carries one.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var k Kind
	if errors.As(err, &k) {
		return err
	}
	return Wrap(classify(err), err)
}

// IsClosed reports whether err means the peer or the local side closed the
// connection. Such errors end a connection without being failures.
func IsClosed(err error) bool {
	return err != nil && KindOf(err) == KindClosed
}

func classify(err error) Kind {
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindClosed
	case errors.As(err, &dnsErr):
		return KindHostResolution
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnRefused
	case errors.As(err, &certErr), errors.As(err, &recErr), errors.As(err, &alertErr),
		errors.As(err, &unknownAuth), errors.As(err, &hostErr):
		return KindTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &opErr):
		return KindIo
	default:
		return KindOther
	}
}
