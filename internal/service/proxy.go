// Package service implements the request and response transformations of the relay.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"xhttp-relay/internal/client"
	"xhttp-relay/internal/config"
	"xhttp-relay/internal/model"
	"xhttp-relay/internal/rewrite"
)

// ProxyService turns inbound requests into upstream requests and upstream
// responses into caller responses.
type ProxyService struct {
	client *client.UpstreamClient
	logger *slog.Logger
	origin *url.URL
	rule   rewrite.Rule

	requestHeaders  headerFilter
	responseHeaders headerFilter
	clientInfo      bool
	decode          bool
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}

	rule, err := rewrite.New(rewrite.Mode(cfg.Rewrite.Mode), cfg.Rewrite.Prefix, cfg.Rewrite.Target)
	if err != nil {
		return nil, fmt.Errorf("build rewrite rule: %w", err)
	}

	return &ProxyService{
		client:          c,
		logger:          logger.With("component", "proxy_service"),
		origin:          &url.URL{Scheme: u.Scheme, Host: u.Host},
		rule:            rule,
		requestHeaders:  newHeaderFilter(requestDenyList, cfg.Headers.RequestDeny),
		responseHeaders: newHeaderFilter(responseDenyList, cfg.Headers.ResponseDeny),
		clientInfo:      cfg.Headers.ForwardClientInfo,
		decode:          cfg.Headers.ContentEncoding == config.EncodingDecode,
	}, nil
}

// Origin returns the upstream origin as scheme://host.
func (s *ProxyService) Origin() string {
	return s.origin.String()
}

// RewriteMode returns the configured path rewrite mode.
func (s *ProxyService) RewriteMode() rewrite.Mode {
	return s.rule.Mode()
}

// TransformRequest builds the upstream request for in. The body is passed
// through by reference; GET, HEAD and OPTIONS are sent without one.
func (s *ProxyService) TransformRequest(in *model.InboundRequest) (*model.OutboundRequest, error) {
	if !strings.HasPrefix(in.RequestURI, "/") {
		return nil, model.NewRelayError(model.KindMalformedRequest, "parse_request_uri",
			fmt.Errorf("request target %q is not origin-form", in.RequestURI))
	}

	target, err := url.ParseRequestURI(s.rule.RequestURI(in.RequestURI))
	if err != nil {
		return nil, model.NewRelayError(model.KindMalformedRequest, "parse_request_uri", err)
	}
	target.Scheme = s.origin.Scheme
	target.Host = s.origin.Host

	h := s.requestHeaders.apply(in.Header)
	if s.clientInfo {
		setClientInfo(h, in)
	}

	out := &model.OutboundRequest{
		Ctx:           in.Ctx,
		Method:        in.Method,
		URL:           target,
		Host:          s.origin.Host,
		Header:        h,
		Body:          in.Body,
		ContentLength: in.ContentLength,
	}
	if bodyless(in.Method) || in.Body == nil || in.Body == http.NoBody || in.ContentLength == 0 {
		out.Body = nil
		out.ContentLength = 0
	}
	return out, nil
}

// Forward issues out to the upstream origin. The caller must close the
// returned body.
func (s *ProxyService) Forward(out *model.OutboundRequest) (*model.UpstreamResponse, error) {
	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", out.URL.Path,
	)

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// TransformResponse filters hop-by-hop headers and applies the
// content-encoding policy. Status and body pass through.
func (s *ProxyService) TransformResponse(resp *model.UpstreamResponse) *model.OutboundResponse {
	h := s.responseHeaders.apply(resp.Header)
	body := resp.Body
	if s.decode {
		body = decodeBody(h, body)
	}
	return &model.OutboundResponse{
		StatusCode: resp.StatusCode,
		Header:     h,
		Body:       body,
	}
}

func bodyless(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func setClientInfo(h http.Header, in *model.InboundRequest) {
	if in.ClientIP != "" {
		h.Set("X-Forwarded-For", in.ClientIP)
		h.Set("X-Real-Ip", in.ClientIP)
	}
	if in.Scheme != "" {
		h.Set("X-Forwarded-Proto", in.Scheme)
	}
	if in.Host != "" {
		h.Set("X-Forwarded-Host", in.Host)
	}
}
