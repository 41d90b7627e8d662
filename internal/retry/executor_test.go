package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"authcore/internal/errclass"
)

type ExecutorSuite struct {
	suite.Suite
	slept []time.Duration
	exec  *Executor
}

func (s *ExecutorSuite) SetupTest() {
	s.slept = nil
	s.exec = New(
		WithConfig(Config{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second}),
		withSleep(func(_ context.Context, d time.Duration) error {
			s.slept = append(s.slept, d)
			return nil
		}),
	)
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) TestFirstAttemptSuccess() {
	result := s.exec.Execute(context.Background(), func(context.Context) error { return nil }, 3, errclass.StrategyExponentialBackoff)
	s.True(result.Success)
	s.Zero(result.RetryCount)
	s.Zero(result.TotalDelay)
	s.Empty(s.slept)
}

func (s *ExecutorSuite) TestRetriesUntilSuccess() {
	calls := 0
	op := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	result := s.exec.Execute(context.Background(), op, 5, errclass.StrategyLinearBackoff)
	s.True(result.Success)
	s.Equal(2, result.RetryCount)
	s.Equal([]time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.slept)
	s.Equal(300*time.Millisecond, result.TotalDelay)
}

func (s *ExecutorSuite) TestExhaustsRetries() {
	calls := 0
	op := func(context.Context) error { calls++; return errors.New("always fails") }
	result := s.exec.Execute(context.Background(), op, 2, errclass.StrategyImmediate)
	s.False(result.Success)
	s.Equal(3, calls)
	s.Equal(3, result.RetryCount)
	s.Zero(result.TotalDelay)
}

func (s *ExecutorSuite) TestExponentialBackoffDelays() {
	op := func(context.Context) error { return errors.New("always fails") }
	result := s.exec.Execute(context.Background(), op, 3, errclass.StrategyExponentialBackoff)
	s.False(result.Success)
	s.Equal([]time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, s.slept)
	s.Equal(700*time.Millisecond, result.TotalDelay)
}

func (s *ExecutorSuite) TestNoRetryStrategyMakesSingleAttempt() {
	calls := 0
	op := func(context.Context) error { calls++; return errors.New("fatal") }
	result := s.exec.Execute(context.Background(), op, 5, errclass.StrategyNoRetry)
	s.False(result.Success)
	s.Equal(1, calls)
}

func (s *ExecutorSuite) TestClassifierStopsNonRetryableFailures() {
	classifier := errclass.New()
	exec := New(
		WithClassifier(classifier.Classify),
		withSleep(func(context.Context, time.Duration) error { return nil }),
	)
	calls := 0
	op := func(context.Context) error {
		calls++
		return &authError{}
	}
	result := exec.Execute(context.Background(), op, 5, errclass.StrategyLinearBackoff)
	s.False(result.Success)
	s.Equal(1, calls)
}

func (s *ExecutorSuite) TestCancelledContextAbortsBetweenAttempts() {
	ctx, cancel := context.WithCancel(context.Background())
	exec := New(withSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	calls := 0
	op := func(context.Context) error { calls++; return errors.New("transient") }
	result := exec.Execute(ctx, op, 5, errclass.StrategyLinearBackoff)
	s.False(result.Success)
	s.Equal(1, calls)
	s.ErrorIs(result.Err, context.Canceled)
}

func (s *ExecutorSuite) TestJitterNeverReducesBaseDelay() {
	exec := New(
		WithConfig(Config{BaseDelay: 50 * time.Millisecond, Multiplier: 2, Jitter: true}),
	)
	for attempt := 0; attempt < 4; attempt++ {
		d := exec.delayFor(errclass.StrategyLinearBackoff, attempt)
		s.GreaterOrEqual(d, 50*time.Millisecond*time.Duration(attempt+1))
	}
}

type authError struct{}

func (e *authError) Error() string     { return "NotAuthorizedException" }
func (e *authError) ErrorCode() string { return "NotAuthorizedException" }
