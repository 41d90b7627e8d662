package session

import "time"

// ActivityType categorizes what bumped a session's activity clock.
type ActivityType string

const (
	ActivityUserInteraction ActivityType = "user_interaction"
	ActivityAPICall         ActivityType = "api_call"
	ActivityBackground      ActivityType = "background"
)

// Session is a client-tracked record of one authenticated period with its
// own timeout and activity bookkeeping. Multiple sessions per user are
// allowed; the manager keys them by SessionID.
type Session struct {
	SessionID      string
	UserID         string
	CreatedAt      time.Time
	LastActivity   time.Time
	ExpiresAt      time.Time
	IsActive       bool
	ExtensionsUsed int
	ActivityScore  int
	WarningShownAt *time.Time
}

// EventKind enumerates the timeout notifications the manager emits.
type EventKind string

const (
	EventRenewed  EventKind = "renewed"
	EventExtended EventKind = "extended"
	EventExpired  EventKind = "expired"
	EventWarning  EventKind = "warning"
)

// Event always carries the session id it concerns.
type Event struct {
	Kind      EventKind
	SessionID string
	Reason    string
	At        time.Time
}
