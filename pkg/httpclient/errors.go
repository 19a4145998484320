package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind classifies why an outbound call produced no usable response.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindInvalidJSON
	KindHTTP
	KindSSL
	KindTimeout
	KindInvalidURL
	KindTooManyRedirects
	KindInvalidHeader
)

var kindMessages = map[ErrorKind]string{
	KindUnexpected:       "There was an unexpected error with the request",
	KindInvalidJSON:      "JSON is invalid",
	KindHTTP:             "An HTTP error occurred",
	KindSSL:              "An SSL error occurred",
	KindTimeout:          "The request timed out",
	KindInvalidURL:       "The url is invalid",
	KindTooManyRedirects: "There are too many redirects",
	KindInvalidHeader:    "The header is invalid",
}

var kindNames = map[ErrorKind]string{
	KindUnexpected:       "unexpected",
	KindInvalidJSON:      "invalid_json",
	KindHTTP:             "http",
	KindSSL:              "ssl",
	KindTimeout:          "timeout",
	KindInvalidURL:       "invalid_url",
	KindTooManyRedirects: "too_many_redirects",
	KindInvalidHeader:    "invalid_header",
}

func (k ErrorKind) String() string {
	return kindNames[k]
}

// Message is the human-readable text shown in traces and notifications.
func (k ErrorKind) Message() string {
	return kindMessages[k]
}

// ErrTooManyRedirects is returned by the redirect policy once the cap is hit.
var ErrTooManyRedirects = errors.New("stopped after too many redirects")

// TransportError is a classified failure to obtain a response.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return e.Kind.Message()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(kind ErrorKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

// Classify maps an error from building or sending a request onto the taxonomy.
func Classify(err error) *TransportError {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, ErrTooManyRedirects) {
		return newTransportError(KindTooManyRedirects, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newTransportError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newTransportError(KindTimeout, err)
	}

	if isTLSError(err) {
		return newTransportError(KindSSL, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newTransportError(KindInvalidJSON, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported protocol scheme"),
		strings.Contains(msg, "no Host in request URL"),
		strings.Contains(msg, "invalid URL"):
		return newTransportError(KindInvalidURL, err)
	case strings.Contains(msg, "invalid header field"):
		return newTransportError(KindInvalidHeader, err)
	case strings.Contains(msg, "malformed HTTP"),
		strings.Contains(msg, "HTTP/1.x transport connection broken"),
		strings.Contains(msg, "server gave HTTP response to HTTPS client"):
		return newTransportError(KindHTTP, err)
	}

	var protoErr *http.ProtocolError
	if errors.As(err, &protoErr) {
		return newTransportError(KindHTTP, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var parseErr *url.Error
		if errors.As(urlErr.Err, &parseErr) {
			return newTransportError(KindInvalidURL, err)
		}
	}

	return newTransportError(KindUnexpected, err)
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var alertErr tls.AlertError
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr) ||
		strings.Contains(err.Error(), "tls: ")
}
