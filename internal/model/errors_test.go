package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorKind_CodeAndStatus(t *testing.T) {
	tests := []struct {
		kind       ErrorKind
		wantCode   string
		wantStatus int
	}{
		{KindMalformedRequest, "malformed_request", http.StatusInternalServerError},
		{KindUpstreamUnreachable, "upstream_unreachable", http.StatusBadGateway},
		{KindUpstreamTimeout, "upstream_timeout", http.StatusBadGateway},
		{KindStreamInterrupted, "stream_interrupted", http.StatusBadGateway},
		{KindUnknown, "internal_error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.wantCode {
				t.Errorf("Code() = %q, want %q", got, tt.wantCode)
			}
			if got := tt.kind.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	base := NewRelayError(KindUpstreamTimeout, "await_headers", context.DeadlineExceeded)
	wrapped := fmt.Errorf("forward: %w", base)

	if got := KindOf(wrapped); got != KindUpstreamTimeout {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, KindUpstreamTimeout)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindUnknown)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("RelayError should unwrap to its cause")
	}
}

func TestRelayError_Error(t *testing.T) {
	err := NewRelayError(KindMalformedRequest, "parse_request_uri", errors.New("bad escape"))
	want := "malformed_request [parse_request_uri]: bad escape"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := NewRelayError(KindStreamInterrupted, "read_body", nil)
	if got := bare.Error(); got != "stream_interrupted [read_body]" {
		t.Errorf("Error() = %q", got)
	}
}
