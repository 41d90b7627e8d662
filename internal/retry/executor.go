package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"authcore/internal/errclass"
	"authcore/internal/metrics"
	dErrors "authcore/pkg/domain-errors"
)

// Result reports the outcome of a retried operation. RetryCount is the
// number of failed attempts actually made, zero when the first attempt
// succeeds.
type Result struct {
	Success    bool
	Err        error
	RetryCount int
	TotalDelay time.Duration
}

// Config holds pacing parameters shared by all strategies.
type Config struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// Partial updates individual Config fields; nil fields are left untouched.
type Partial struct {
	BaseDelay  *time.Duration
	Multiplier *float64
	MaxDelay   *time.Duration
	Jitter     *bool
}

func defaultConfig() Config {
	return Config{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     false,
	}
}

// Executor runs operations with strategy-driven pacing between attempts.
// Sleeps are context-cancellable so a sign-out can abort in-flight retries.
type Executor struct {
	cfg      Config
	classify func(error) errclass.Classification
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Executor)

func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		if cfg.BaseDelay > 0 {
			e.cfg.BaseDelay = cfg.BaseDelay
		}
		if cfg.Multiplier > 1 {
			e.cfg.Multiplier = cfg.Multiplier
		}
		if cfg.MaxDelay > 0 {
			e.cfg.MaxDelay = cfg.MaxDelay
		}
		e.cfg.Jitter = cfg.Jitter
	}
}

// WithClassifier lets the executor stop early when a fresh failure
// classifies as non-retryable.
func WithClassifier(classify func(error) errclass.Classification) Option {
	return func(e *Executor) {
		e.classify = classify
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// withSleep overrides the sleeper in tests so they run without wall-clock delay.
func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		cfg:   defaultConfig(),
		sleep: sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Executor) GetConfig() Config {
	return e.cfg
}

// UpdateConfig applies the non-nil fields of the partial config.
func (e *Executor) UpdateConfig(partial Partial) {
	if partial.BaseDelay != nil && *partial.BaseDelay > 0 {
		e.cfg.BaseDelay = *partial.BaseDelay
	}
	if partial.Multiplier != nil && *partial.Multiplier > 1 {
		e.cfg.Multiplier = *partial.Multiplier
	}
	if partial.MaxDelay != nil && *partial.MaxDelay > 0 {
		e.cfg.MaxDelay = *partial.MaxDelay
	}
	if partial.Jitter != nil {
		e.cfg.Jitter = *partial.Jitter
	}
}

// Execute calls op up to maxRetries+1 times, pacing attempts per strategy.
// It stops as soon as op succeeds, a failure classifies as non-retryable,
// or ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error, maxRetries int, strategy errclass.Strategy) Result {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if strategy == errclass.StrategyNoRetry {
		maxRetries = 0
	}

	var result Result
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = dErrors.Wrap(err, dErrors.CodeTimeout, "retry cancelled")
			return result
		}

		if e.metrics != nil {
			e.metrics.RetryAttempts.Inc()
		}
		err := op(ctx)
		if err == nil {
			result.Success = true
			result.Err = nil
			return result
		}
		result.Err = err
		result.RetryCount++

		if attempt >= maxRetries {
			return result
		}
		if e.classify != nil {
			if c := e.classify(err); !c.Retryable || c.RetryStrategy == errclass.StrategyNoRetry {
				return result
			}
		}

		delay := e.delayFor(strategy, attempt)
		result.TotalDelay += delay
		e.logger.Debug("retrying operation",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay_ms", delay.Milliseconds(),
		)
		if err := e.sleep(ctx, delay); err != nil {
			result.Err = dErrors.Wrap(err, dErrors.CodeTimeout, "retry cancelled")
			return result
		}
	}
}

// delayFor computes the pause between attempt i and i+1. Jitter only ever
// adds on top of the configured minimum.
func (e *Executor) delayFor(strategy errclass.Strategy, attempt int) time.Duration {
	var delay time.Duration
	switch strategy {
	case errclass.StrategyImmediate:
		return 0
	case errclass.StrategyLinearBackoff:
		delay = e.cfg.BaseDelay * time.Duration(attempt+1)
	case errclass.StrategyExponentialBackoff:
		delay = time.Duration(float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attempt)))
	default:
		return 0
	}
	if e.cfg.MaxDelay > 0 && delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	if e.cfg.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
