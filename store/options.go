package store

import (
	"log/slog"
	"time"
)

// Option configures the DynamoDB-backed engine.
type Option func(*options)

type options struct {
	clock  func() time.Time
	logger *slog.Logger
}

func newOptions() *options {
	return &options{
		clock:  time.Now,
		logger: slog.Default(),
	}
}

// WithClock sets the clock used for expiry checks and TTL filters.
// Defaults to [time.Now]. Useful for controlling time in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger used for retry diagnostics.
// Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
