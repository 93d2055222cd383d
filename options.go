package parallel

import (
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*GatherCoordinator) error

func WithLogger(logger log.Logger) Option {
	return func(c *GatherCoordinator) error {
		c.logger = logger
		return nil
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *GatherCoordinator) error {
		c.reg = reg
		return nil
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *GatherCoordinator) error {
		c.tracer = tracer
		return nil
	}
}

// WithRingCapacity sizes each worker's ring buffer in bytes.
func WithRingCapacity(capacity int) Option {
	return func(c *GatherCoordinator) error {
		if capacity < 0 {
			return fmt.Errorf("ring capacity must not be negative, got %d", capacity)
		}
		c.ringCapacity = capacity
		return nil
	}
}

// WithStagingCapacity sizes each endpoint's initial staging buffer in bytes.
// The buffer still grows on demand for oversized messages.
func WithStagingCapacity(capacity int) Option {
	return func(c *GatherCoordinator) error {
		if capacity < 0 {
			return fmt.Errorf("staging capacity must not be negative, got %d", capacity)
		}
		c.localCapacity = capacity
		return nil
	}
}

// WithLaunchTimeout bounds how long the coordinator waits for a just-spawned
// worker to reach a stable state.
func WithLaunchTimeout(d time.Duration) Option {
	return func(c *GatherCoordinator) error {
		if d <= 0 {
			return fmt.Errorf("launch timeout must be positive, got %v", d)
		}
		c.launchTimeout = d
		return nil
	}
}
