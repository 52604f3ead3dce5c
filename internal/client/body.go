package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"xhttp-relay/internal/metrics"
	"xhttp-relay/internal/model"
)

// watchdog cancels an exchange when no body progress is made for timeout.
// It stays disarmed until response headers arrive.
type watchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	fire    func()
	timer   *time.Timer
	stopped bool
}

func newWatchdog(timeout time.Duration, fire func()) *watchdog {
	return &watchdog{timeout: timeout, fire: fire}
}

func (w *watchdog) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout <= 0 || w.stopped || w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && !w.stopped {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// uploadBody wraps the inbound request body on its way upstream.
type uploadBody struct {
	rc      io.ReadCloser
	wd      *watchdog
	metrics *metrics.Metrics

	mu  sync.Mutex
	err error
}

func (b *uploadBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.wd.kick()
		if b.metrics != nil {
			b.metrics.BodyBytes.WithLabelValues("upload").Add(float64(n))
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}
	return n, err
}

func (b *uploadBody) Close() error {
	return b.rc.Close()
}

func (b *uploadBody) readErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// downloadBody wraps the upstream response body. Read failures surface as
// StreamInterrupted relay errors. Close ends the exchange.
type downloadBody struct {
	rc      io.ReadCloser
	ctx     context.Context
	cancel  context.CancelCauseFunc
	wd      *watchdog
	metrics *metrics.Metrics

	once     sync.Once
	closeErr error
}

func (b *downloadBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.wd.kick()
		if b.metrics != nil {
			b.metrics.BodyBytes.WithLabelValues("download").Add(float64(n))
		}
	}
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}

	if cause := context.Cause(b.ctx); errors.Is(cause, errIdleTimeout) {
		err = errIdleTimeout
	}
	return n, model.NewRelayError(model.KindStreamInterrupted, "read_response_body", err)
}

func (b *downloadBody) Close() error {
	b.once.Do(func() {
		b.wd.stop()
		b.closeErr = b.rc.Close()
		b.cancel(context.Canceled)
	})
	return b.closeErr
}
