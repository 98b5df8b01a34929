package firewall

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures so operators can tell an
// unreachable firewall from one returning garbage.
type ErrorKind string

const (
	// KindTimeout indicates the request exceeded its deadline
	KindTimeout ErrorKind = "timeout"

	// KindUnreachable indicates the firewall could not be contacted
	KindUnreachable ErrorKind = "unreachable"

	// KindUnexpectedStatus indicates an HTTP status outside the protocol
	KindUnexpectedStatus ErrorKind = "unexpected_status"

	// KindMalformedResponse indicates a 200 body that could not be interpreted
	KindMalformedResponse ErrorKind = "malformed_response"

	// KindCanceled indicates the caller abandoned the request
	KindCanceled ErrorKind = "canceled"
)

// TransportError wraps every failure to obtain a usable answer from the firewall
type TransportError struct {
	Op         string
	Package    string
	Kind       ErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	target := e.Op
	if e.Package != "" {
		target = e.Op + " " + e.Package
	}

	var msg string
	switch e.Kind {
	case KindTimeout:
		msg = "timeout"
	case KindUnreachable:
		msg = "firewall unreachable"
	case KindUnexpectedStatus:
		msg = fmt.Sprintf("unexpected status %d", e.StatusCode)
	case KindMalformedResponse:
		msg = "malformed response"
	case KindCanceled:
		msg = "canceled"
	default:
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", target, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", target, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, or "" when err is not a TransportError
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsTimeout reports whether err is a firewall timeout
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}
