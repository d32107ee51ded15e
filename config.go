package paygate

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Option configures a Controller. Options are validated by NewController.
type Option func(*controllerConfig) error

type controllerConfig struct {
	dispatcher  Dispatcher
	queueSize   int
	ledger      Ledger
	metrics     Metrics
	logger      *zerolog.Logger
	ackRetry    RetryConfig
	throttle    *rate.Limiter
	historySize int
}

const (
	defaultQueueSize   = 64
	defaultHistorySize = 50
)

func defaultControllerConfig() *controllerConfig {
	return &controllerConfig{
		queueSize:   defaultQueueSize,
		ackRetry:    DefaultRetryConfig(),
		historySize: defaultHistorySize,
	}
}

// WithDispatcher runs gate callbacks on d instead of an internal dispatcher.
// The caller keeps ownership of d and must close it.
func WithDispatcher(d Dispatcher) Option {
	return func(c *controllerConfig) error {
		if d == nil {
			return fmt.Errorf("dispatcher cannot be nil")
		}
		c.dispatcher = d
		return nil
	}
}

// WithDispatchQueue sets the queue size of the internal dispatcher.
func WithDispatchQueue(size int) Option {
	return func(c *controllerConfig) error {
		if size <= 0 {
			return fmt.Errorf("dispatch queue size must be greater than 0")
		}
		c.queueSize = size
		return nil
	}
}

// WithLedger sets where finalized transaction handles are remembered.
// Defaults to an InMemoryLedger, which only deduplicates within the session.
func WithLedger(l Ledger) Option {
	return func(c *controllerConfig) error {
		if l == nil {
			return fmt.Errorf("ledger cannot be nil")
		}
		c.ledger = l
		return nil
	}
}

// WithMetrics configures metrics collection.
func WithMetrics(m Metrics) Option {
	return func(c *controllerConfig) error {
		c.metrics = m
		return nil
	}
}

// WithLogger sets the logger used by the Controller.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *controllerConfig) error {
		c.logger = &logger
		return nil
	}
}

// WithAckRetry sets the backoff used when acknowledging finished transactions.
// Only errors wrapped in RetryableError are retried.
func WithAckRetry(cfg RetryConfig) Option {
	return func(c *controllerConfig) error {
		if cfg.MaxAttempts <= 0 {
			return fmt.Errorf("max attempts must be greater than 0")
		}
		c.ackRetry = cfg
		return nil
	}
}

// WithPurchaseThrottle drops purchase triggers arriving faster than limit.
func WithPurchaseThrottle(limit rate.Limit, burst int) Option {
	return func(c *controllerConfig) error {
		if burst <= 0 {
			return fmt.Errorf("throttle burst must be greater than 0")
		}
		c.throttle = rate.NewLimiter(limit, burst)
		return nil
	}
}

// WithHistorySize sets how many completed attempts the Controller keeps.
func WithHistorySize(n int) Option {
	return func(c *controllerConfig) error {
		if n <= 0 {
			return fmt.Errorf("history size must be greater than 0")
		}
		c.historySize = n
		return nil
	}
}
