package client

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"xhttp-relay/internal/config"
	"xhttp-relay/internal/metrics"
)

// newBreaker returns nil when the breaker is disabled.
func newBreaker(cfg config.CircuitBreakerConfig, logger *slog.Logger, m *metrics.Metrics) *gobreaker.CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}

	minRequests := uint32(cfg.MinRequests) //nolint:gosec // validated non-negative
	ratio := cfg.FailureRatio
	open := time.Duration(cfg.OpenSeconds) * time.Second

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Interval:    2 * open,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if m != nil {
				m.BreakerState.Set(float64(to))
			}
		},
	})
}
