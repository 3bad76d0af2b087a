// Package breaker builds the circuit breakers that guard calls to the
// external runtime services.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

const (
	// MaxHalfOpenRequests is the number of probes allowed while half-open
	MaxHalfOpenRequests = 3
	// Interval is the cyclic period for clearing counts while closed
	Interval = 60 * time.Second
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout = 30 * time.Second
	// TripAfter is the number of consecutive failures that opens the breaker
	TripAfter = 6
)

// New creates a runtime circuit breaker that logs its state changes
func New(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	logger = logging.OrDefault(logger)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: MaxHalfOpenRequests,
		Interval:    Interval,
		Timeout:     OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= TripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
