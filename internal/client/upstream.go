// Package client provides the HTTP client for the upstream origin.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"xhttp-relay/internal/config"
	"xhttp-relay/internal/metrics"
	"xhttp-relay/internal/model"
	"xhttp-relay/internal/tracing"
)

var (
	errHeaderTimeout = errors.New("no upstream response headers within timeout")
	errIdleTimeout   = errors.New("body transfer idle timeout")
)

// UpstreamClient sends requests to the upstream origin. It is created once
// and shared by all requests.
type UpstreamClient struct {
	httpClient    *http.Client
	headerTimeout time.Duration
	idleTimeout   time.Duration
	breaker       *gobreaker.CircuitBreaker
	tracer        trace.Tracer
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics and tracing parameters are optional; pass nil to disable them.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tp *tracing.Provider) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Upstream.DialTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		// Bodies are relayed as-is; the transport must neither request nor
		// undo compression on its own.
		DisableCompression: true,
	}

	httpClient := &http.Client{Transport: transport}
	if cfg.Upstream.Redirects != config.RedirectFollow {
		httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var tracer trace.Tracer = noop.NewTracerProvider().Tracer("")
	if tp != nil {
		tracer = tp.Tracer()
	}

	logger = logger.With("component", "upstream_client")
	return &UpstreamClient{
		httpClient:    httpClient,
		headerTimeout: cfg.Upstream.Timeout(),
		idleTimeout:   cfg.Upstream.IdleTimeout(),
		breaker:       newBreaker(cfg.Upstream.CircuitBreaker, logger, m),
		tracer:        tracer,
		logger:        logger,
		metrics:       m,
	}
}

// Do issues out to the upstream and returns once response headers arrive.
// Redirects are returned as-is unless the follow policy is configured. The
// caller must close the returned body; closing it releases the connection
// and cancels the exchange.
func (c *UpstreamClient) Do(out *model.OutboundRequest) (*model.UpstreamResponse, error) {
	ctx, cancel := context.WithCancelCause(out.Ctx)
	ctx, span := c.tracer.Start(ctx, "upstream.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", out.Method),
			attribute.String("server.address", out.Host),
		),
	)
	defer span.End()

	wd := newWatchdog(c.idleTimeout, func() { cancel(errIdleTimeout) })

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL.String(), nil)
	if err != nil {
		cancel(nil)
		return nil, model.NewRelayError(model.KindMalformedRequest, "build_request", err)
	}
	// Keep the exact escaped path and query built by the transformer.
	req.URL = out.URL
	req.Host = out.Host
	req.Header = out.Header
	if _, ok := req.Header["User-Agent"]; !ok {
		// An empty value stops the transport from adding its own.
		req.Header["User-Agent"] = []string{""}
	}

	var upload *uploadBody
	if out.Body != nil {
		upload = &uploadBody{rc: out.Body, wd: wd, metrics: c.metrics}
		req.Body = upload
		req.ContentLength = out.ContentLength
		if req.ContentLength == 0 {
			req.ContentLength = -1
		}
	}

	c.logger.Debug("upstream request",
		"method", out.Method,
		"path", out.URL.Path,
	)

	var timer *time.Timer
	if c.headerTimeout > 0 {
		timer = time.AfterFunc(c.headerTimeout, func() { cancel(errHeaderTimeout) })
	}

	start := time.Now()
	resp, err := c.roundTrip(out.Ctx, req)
	inTime := timer == nil || timer.Stop()
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(out.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err == nil && !inTime {
		_ = resp.Body.Close()
		err = errHeaderTimeout
	}
	if err != nil {
		relayErr := classify(ctx, out.Ctx, err, upload)
		cancel(relayErr)
		span.RecordError(relayErr)
		span.SetStatus(codes.Error, model.KindOf(relayErr).Code())
		return nil, relayErr
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	wd.arm()
	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body: &downloadBody{
			rc:      resp.Body,
			ctx:     ctx,
			cancel:  cancel,
			wd:      wd,
			metrics: c.metrics,
		},
	}, nil
}

// CloseIdleConnections releases pooled upstream connections. Called at shutdown.
func (c *UpstreamClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// BreakerState reports the circuit breaker state, or "disabled".
func (c *UpstreamClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

// roundTrip runs the request through the breaker when one is configured.
// Failures caused by the caller going away are not held against the upstream.
func (c *UpstreamClient) roundTrip(callerCtx context.Context, req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the caller
		r := roundTripResult{resp: resp, err: err}
		if err != nil && callerCtx.Err() == nil {
			return r, err
		}
		return r, nil
	})
	r, ok := v.(roundTripResult)
	if !ok {
		return nil, err
	}
	return r.resp, r.err
}

// classify maps a round-trip failure onto the relay error taxonomy.
func classify(ctx, callerCtx context.Context, err error, upload *uploadBody) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(err, errHeaderTimeout) || errors.Is(cause, errHeaderTimeout):
		return model.NewRelayError(model.KindUpstreamTimeout, "await_headers", errHeaderTimeout)
	case errors.Is(cause, errIdleTimeout):
		return model.NewRelayError(model.KindStreamInterrupted, "upload_body", errIdleTimeout)
	case upload != nil && upload.readErr() != nil:
		return model.NewRelayError(model.KindStreamInterrupted, "read_request_body", upload.readErr())
	case errors.Is(callerCtx.Err(), context.Canceled):
		return model.NewRelayError(model.KindStreamInterrupted, "caller_canceled", err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return model.NewRelayError(model.KindUpstreamUnreachable, "circuit_open", err)
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return model.NewRelayError(model.KindUpstreamTimeout, "round_trip", err)
	default:
		return model.NewRelayError(model.KindUpstreamUnreachable, "round_trip", err)
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
