package broadcast

import "time"

// Source identifies which lifecycle path produced an auth state snapshot.
type Source string

const (
	SourceLogin   Source = "login"
	SourceLogout  Source = "logout"
	SourceRefresh Source = "refresh"
	SourceRestore Source = "restore"
)

// User is the identity subset consumers need for display and routing.
type User struct {
	ID    string
	Email string
	Name  string
}

// Tokens is the credential set attached to an authenticated state.
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// AuthState is the single current authentication snapshot. Snapshots are
// immutable: every mutation produces a new one, and exactly one current
// state exists per broadcaster.
type AuthState struct {
	IsAuthenticated bool
	User            *User
	Tokens          *Tokens
	Source          Source
	LastUpdated     time.Time
	SessionID       string
}

// clone deep-copies the snapshot so no listener can reach into the
// broadcaster's current state.
func (s AuthState) clone() AuthState {
	out := s
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	if s.Tokens != nil {
		tokens := *s.Tokens
		out.Tokens = &tokens
	}
	return out
}

// Partial carries the fields an update wants to change. Nil pointer fields
// are left untouched; the Clear flags drop user/tokens explicitly.
type Partial struct {
	IsAuthenticated *bool
	User            *User
	Tokens          *Tokens
	ClearUser       bool
	ClearTokens     bool
}

// Listener receives every auth state change. Component groups listeners for
// bulk removal; higher priority runs earlier, ties keep registration order.
type Listener struct {
	ID        string
	Component string
	Priority  int
	Callback  func(AuthState)
}

// Event is one entry of the bounded broadcast history.
type Event struct {
	State  AuthState
	Source Source
	At     time.Time
}

// Stats summarizes broadcaster shape for introspection endpoints.
type Stats struct {
	ListenerCount int
	HistoryCount  int
	CurrentState  AuthState
	LastEventTime time.Time
}
