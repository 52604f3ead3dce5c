// Package model defines the per-request types shared by the relay stages.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// InboundRequest is a caller request as received at the edge.
type InboundRequest struct {
	Ctx        context.Context
	Method     string
	RequestURI string // raw path + query, exactly as received
	Host       string
	Scheme     string
	ClientIP   string
	Header     http.Header
	Body       io.ReadCloser

	// ContentLength is -1 when the caller did not declare a length.
	ContentLength int64
}

// OutboundRequest is the request issued to the upstream origin.
// Body is the inbound body itself, not a copy.
type OutboundRequest struct {
	Ctx           context.Context
	Method        string
	URL           *url.URL
	Host          string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// UpstreamResponse is the response obtained from the upstream origin.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OutboundResponse is the response written back to the caller.
type OutboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
