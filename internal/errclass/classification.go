package errclass

import "time"

// Type is the failure taxonomy shared across the lifecycle coordinator.
type Type string

const (
	TypeConnectivity   Type = "connectivity"
	TypeTimeout        Type = "timeout"
	TypeAuthentication Type = "authentication"
	TypeValidation     Type = "validation"
	TypeRateLimit      Type = "rate_limit"
	TypeConfiguration  Type = "configuration"
	TypeService        Type = "service"
	TypeUnknown        Type = "unknown"
)

// Severity grades how loudly a classified failure must surface.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy selects how the retry executor paces repeated attempts.
type Strategy string

const (
	StrategyImmediate          Strategy = "immediate"
	StrategyLinearBackoff      Strategy = "linear_backoff"
	StrategyExponentialBackoff Strategy = "exponential_backoff"
	StrategyNoRetry            Strategy = "no_retry"
)

// Classification is the derived, typed description of a raw failure.
// It is computed on demand and never persisted.
type Classification struct {
	Type          Type
	Severity      Severity
	Retryable     bool
	RetryStrategy Strategy
	MaxRetries    int
	BaseDelay     time.Duration
	UserMessage   string
	Guidance      string
}
