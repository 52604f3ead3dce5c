package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"xhttp-relay/internal/metrics"
	"xhttp-relay/internal/model"
	"xhttp-relay/internal/service"
)

// streamChunkSize is the largest body slice written before each flush.
const streamChunkSize = 32 << 10

// urlQueryPattern matches query strings of URLs embedded in error messages.
var urlQueryPattern = regexp.MustCompile(`(https?://[^\s"?]+)\?[^\s"]*`)

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, streamChunkSize)
		return &b
	},
}

// errorMessages are the caller-facing descriptions per failure kind. They
// never include upstream addresses.
var errorMessages = map[model.ErrorKind]string{
	model.KindMalformedRequest:    "request could not be translated for the upstream",
	model.KindUpstreamUnreachable: "upstream is unreachable",
	model.KindUpstreamTimeout:     "upstream did not respond in time",
	model.KindStreamInterrupted:   "stream interrupted before the upstream responded",
	model.KindUnknown:             "internal relay error",
}

// ErrorResponse is the JSON body returned for failures before any upstream
// bytes reached the caller.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProxyHandler relays requests on the configured mounts to the upstream origin.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. m may be nil.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle relays the request and streams the upstream response back.
//
// Once the status line is written, a failure can no longer be reported as
// JSON; the connection is aborted instead so the caller sees a truncated
// response rather than a clean end of stream.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// HTTP/1 servers discard the unread request body once the response
	// starts; uploads must keep flowing while the download streams.
	rc := http.NewResponseController(c.Response())
	if err := rc.EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("enable full duplex", "err", err)
	}

	uri := req.RequestURI
	if !strings.HasPrefix(uri, "/") && req.URL.Path != "" {
		uri = req.URL.RequestURI()
	}

	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		RequestURI:    uri,
		Host:          req.Host,
		Scheme:        c.Scheme(),
		ClientIP:      c.RealIP(),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	out, err := h.service.TransformRequest(in)
	if err != nil {
		return h.writeError(c, err)
	}

	up, err := h.service.Forward(out)
	if err != nil {
		return h.writeError(c, err)
	}

	resp := h.service.TransformResponse(up)
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)
	c.Response().Flush()

	if err := stream(c.Response(), resp.Body); err != nil {
		h.recordFailure(req, err)
		panic(http.ErrAbortHandler)
	}
	return nil
}

// stream copies body to w chunk by chunk, flushing after every write.
func stream(w *echo.Response, body io.Reader) error {
	bp := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bp)
	buf := *bp

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return model.NewRelayError(model.KindStreamInterrupted, "write_response_body", werr)
			}
			w.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			if model.KindOf(rerr) == model.KindUnknown {
				rerr = model.NewRelayError(model.KindStreamInterrupted, "read_response_body", rerr)
			}
			return rerr
		}
	}
}

func (h *ProxyHandler) writeError(c echo.Context, err error) error {
	kind := h.recordFailure(c.Request(), err)
	return c.JSON(kind.HTTPStatus(), ErrorResponse{
		Error:   kind.Code(),
		Message: errorMessages[kind],
	})
}

func (h *ProxyHandler) recordFailure(req *http.Request, err error) model.ErrorKind {
	kind := model.KindOf(err)
	if h.metrics != nil {
		h.metrics.UpstreamFailures.WithLabelValues(kind.Code()).Inc()
	}

	level := slog.LevelError
	if kind == model.KindStreamInterrupted && req.Context().Err() != nil {
		// The caller went away; nothing is wrong on our side.
		level = slog.LevelWarn
	}
	h.logger.Log(req.Context(), level, "relay failure",
		"kind", kind.Code(),
		"err", sanitizeError(err),
		"method", req.Method,
		"path", req.URL.Path,
	)
	return kind
}

// sanitizeError redacts query strings from URLs that may appear in error messages.
func sanitizeError(err error) string {
	return urlQueryPattern.ReplaceAllString(err.Error(), "${1}?[REDACTED]")
}
