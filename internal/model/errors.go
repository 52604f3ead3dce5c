package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies relay failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedRequest
	KindUpstreamUnreachable
	KindUpstreamTimeout
	KindStreamInterrupted
)

// Code returns the short code used in JSON error bodies and metric labels.
func (k ErrorKind) Code() string {
	switch k {
	case KindMalformedRequest:
		return "malformed_request"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindStreamInterrupted:
		return "stream_interrupted"
	default:
		return "internal_error"
	}
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string { return k.Code() }

// HTTPStatus returns the status reported to the caller when the failure
// happens before any response bytes were written. Local faults are 500,
// anything involving the upstream is 502.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUpstreamUnreachable, KindUpstreamTimeout, KindStreamInterrupted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RelayError is a classified failure of one relay stage.
type RelayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewRelayError creates a RelayError.
func NewRelayError(kind ErrorKind, op string, err error) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: err}
}

func (e *RelayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s [%s]", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Op, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first RelayError in err's chain,
// or KindUnknown.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
