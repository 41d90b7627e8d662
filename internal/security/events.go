package security

import "time"

// Event types emitted by the monitor.
const (
	EventFailedLogin          = "failed_login"
	EventMultipleFailed       = "multiple_failed_attempts"
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventSuspiciousLogin      = "suspicious_login"
	EventAnomalousBehavior    = "anomalous_behavior"
	EventAccountLocked        = "account_locked"
	EventAccountUnlocked      = "account_unlocked"
	EventSessionHijackAttempt = "session_hijack_attempt"
)

// Event severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// EventContext carries request attribution for a recorded event.
type EventContext struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
}

// Event is one append-only security log entry. Resolution is
// one-directional: once resolved an event never becomes unresolved again.
type Event struct {
	ID              string
	Type            string
	Severity        string
	UserID          string
	SessionID       string
	IPAddress       string
	UserAgent       string
	Timestamp       time.Time
	Resolved        bool
	ResponseActions []string
	Details         map[string]string
}

// Filter selects events in GetSecurityEvents. Zero fields match everything.
type Filter struct {
	Type     string
	UserID   string
	Severity string
	Resolved *bool
}

// Summary is the aggregate view returned by GetSecurityMetrics.
type Summary struct {
	TotalEvents    int
	ByType         map[string]int
	BySeverity     map[string]int
	ResolvedCount  int
	LockedAccounts int
}
