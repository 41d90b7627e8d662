package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"authcore/internal/metrics"
)

// Config holds the per-session timing policy.
type Config struct {
	Timeout               time.Duration
	WarningThreshold      time.Duration
	IdleThreshold         time.Duration
	ExtensionDuration     time.Duration
	MaxExtensions         int
	ActivityCheckInterval time.Duration
}

// Partial updates individual Config fields; nil fields are left untouched.
type Partial struct {
	Timeout               *time.Duration
	WarningThreshold      *time.Duration
	IdleThreshold         *time.Duration
	ExtensionDuration     *time.Duration
	MaxExtensions         *int
	ActivityCheckInterval *time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:               30 * time.Minute,
		WarningThreshold:      5 * time.Minute,
		IdleThreshold:         15 * time.Minute,
		ExtensionDuration:     15 * time.Minute,
		MaxExtensions:         3,
		ActivityCheckInterval: 30 * time.Second,
	}
}

// Activity score deltas per activity type, capped at 100.
const (
	scoreUserInteraction = 10
	scoreAPICall         = 5
	maxActivityScore     = 100
)

// Manager is the per-session expiry/idle state machine: active, optionally
// warned, then expired; extension and renewal keep a session active.
// Sessions are owned exclusively by the manager and mutated only through
// its methods.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	sessions  map[string]*Session
	listeners map[string]func(Event)
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		defaults := DefaultConfig()
		if cfg.Timeout <= 0 {
			cfg.Timeout = defaults.Timeout
		}
		if cfg.WarningThreshold <= 0 {
			cfg.WarningThreshold = defaults.WarningThreshold
		}
		if cfg.IdleThreshold <= 0 {
			cfg.IdleThreshold = defaults.IdleThreshold
		}
		if cfg.ExtensionDuration <= 0 {
			cfg.ExtensionDuration = defaults.ExtensionDuration
		}
		if cfg.MaxExtensions < 0 {
			cfg.MaxExtensions = defaults.MaxExtensions
		}
		if cfg.ActivityCheckInterval <= 0 {
			cfg.ActivityCheckInterval = defaults.ActivityCheckInterval
		}
		m.cfg = cfg
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		sessions:  make(map[string]*Session),
		listeners: make(map[string]func(Event)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// UpdateConfig applies the non-nil fields of the partial config.
func (m *Manager) UpdateConfig(partial Partial) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if partial.Timeout != nil && *partial.Timeout > 0 {
		m.cfg.Timeout = *partial.Timeout
	}
	if partial.WarningThreshold != nil && *partial.WarningThreshold > 0 {
		m.cfg.WarningThreshold = *partial.WarningThreshold
	}
	if partial.IdleThreshold != nil && *partial.IdleThreshold > 0 {
		m.cfg.IdleThreshold = *partial.IdleThreshold
	}
	if partial.ExtensionDuration != nil && *partial.ExtensionDuration > 0 {
		m.cfg.ExtensionDuration = *partial.ExtensionDuration
	}
	if partial.MaxExtensions != nil && *partial.MaxExtensions >= 0 {
		m.cfg.MaxExtensions = *partial.MaxExtensions
	}
	if partial.ActivityCheckInterval != nil && *partial.ActivityCheckInterval > 0 {
		m.cfg.ActivityCheckInterval = *partial.ActivityCheckInterval
	}
}

func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AddListener registers a timeout event listener under the given id.
func (m *Manager) AddListener(id string, callback func(Event)) {
	if callback == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[id] = callback
}

func (m *Manager) RemoveListener(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return false
	}
	delete(m.listeners, id)
	return true
}

// CreateSession starts tracking a new active session. A zero timeout uses
// the configured default.
func (m *Manager) CreateSession(sessionID, userID string, timeout time.Duration) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	now := m.now()
	session := &Session{
		SessionID:     sessionID,
		UserID:        userID,
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(timeout),
		IsActive:      true,
		ActivityScore: maxActivityScore,
	}
	m.sessions[sessionID] = session
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return snapshot(session)
}

// GetSession returns a copy of the tracked session, or nil when unknown.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		return snapshot(session)
	}
	return nil
}

// UpdateActivity bumps the session's activity clock and score. Background
// activity refreshes the clock without raising the score.
func (m *Manager) UpdateActivity(sessionID string, activity ActivityType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive {
		return false
	}
	session.LastActivity = m.now()
	switch activity {
	case ActivityUserInteraction:
		session.ActivityScore = min(session.ActivityScore+scoreUserInteraction, maxActivityScore)
	case ActivityAPICall:
		session.ActivityScore = min(session.ActivityScore+scoreAPICall, maxActivityScore)
	}
	return true
}

// NeedsWarning reports whether the session is close enough to expiry that
// the user should be warned, and is not yet expired.
func (m *Manager) NeedsWarning(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive {
		return false
	}
	remaining := session.ExpiresAt.Sub(m.now())
	return remaining > 0 && remaining <= effectiveWarningThreshold(m.cfg.WarningThreshold, session)
}

// effectiveWarningThreshold caps the configured threshold at half the
// session's lifetime, so short sessions are not flagged for warning the
// moment they are created.
func effectiveWarningThreshold(threshold time.Duration, session *Session) time.Duration {
	half := session.ExpiresAt.Sub(session.CreatedAt) / 2
	if half > 0 && threshold > half {
		return half
	}
	return threshold
}

// ExtendSession pushes expiry out by the given duration (configured default
// when zero). It fails once the extension budget is spent; there is no
// silent truncation.
func (m *Manager) ExtendSession(sessionID string, duration time.Duration) bool {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive || session.ExtensionsUsed >= m.cfg.MaxExtensions {
		m.mu.Unlock()
		return false
	}
	if duration <= 0 {
		duration = m.cfg.ExtensionDuration
	}
	session.ExpiresAt = session.ExpiresAt.Add(duration)
	session.ExtensionsUsed++
	session.WarningShownAt = nil
	event := Event{Kind: EventExtended, SessionID: sessionID, At: m.now()}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.emit(listeners, event)
	return true
}

// RenewSession resets the session after a full re-authentication: fresh
// expiry, extension budget back to zero, activity score restored.
func (m *Manager) RenewSession(sessionID string) bool {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	session.ExpiresAt = now.Add(m.cfg.Timeout)
	session.ExtensionsUsed = 0
	session.ActivityScore = maxActivityScore
	session.LastActivity = now
	session.WarningShownAt = nil
	event := Event{Kind: EventRenewed, SessionID: sessionID, At: now}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.emit(listeners, event)
	return true
}

// ExpireSession terminates the session and emits an expired event carrying
// the reason. Expiry is clamped so it never sits in the future.
func (m *Manager) ExpireSession(sessionID, reason string) bool {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	session.IsActive = false
	if session.ExpiresAt.After(now) {
		session.ExpiresAt = now
	}
	event := Event{Kind: EventExpired, SessionID: sessionID, Reason: reason, At: now}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionsExpired.WithLabelValues(reason).Inc()
	}

	m.logger.Info("session expired", "session_id", sessionID, "reason", reason)
	m.emit(listeners, event)
	return true
}

// GetTimeRemaining returns time until expiry, zero for inactive or unknown
// sessions.
func (m *Manager) GetTimeRemaining(sessionID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.IsActive {
		return 0
	}
	remaining := session.ExpiresAt.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ActiveSessions returns copies of all currently active sessions.
func (m *Manager) ActiveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.IsActive {
			out = append(out, snapshot(session))
		}
	}
	return out
}

// Start runs the activity-check loop until ctx is cancelled: overdue or
// idle sessions expire, sessions entering the warning window emit a single
// warning event.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	interval := m.cfg.ActivityCheckInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckSessions()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CheckSessions performs a single activity-check pass.
func (m *Manager) CheckSessions() {
	m.mu.Lock()
	now := m.now()
	var expired []Event
	var warnings []Event
	for id, session := range m.sessions {
		if !session.IsActive {
			continue
		}
		switch {
		case !session.ExpiresAt.After(now):
			session.IsActive = false
			session.ExpiresAt = now
			expired = append(expired, Event{Kind: EventExpired, SessionID: id, Reason: "timeout", At: now})
		case now.Sub(session.LastActivity) >= m.cfg.IdleThreshold:
			session.IsActive = false
			session.ExpiresAt = now
			expired = append(expired, Event{Kind: EventExpired, SessionID: id, Reason: "idle", At: now})
		case session.WarningShownAt == nil && session.ExpiresAt.Sub(now) <= effectiveWarningThreshold(m.cfg.WarningThreshold, session):
			shownAt := now
			session.WarningShownAt = &shownAt
			warnings = append(warnings, Event{Kind: EventWarning, SessionID: id, At: now})
		}
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, event := range warnings {
		m.emit(listeners, event)
	}
	for _, event := range expired {
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
			m.metrics.SessionsExpired.WithLabelValues(event.Reason).Inc()
		}
		m.logger.Info("session expired", "session_id", event.SessionID, "reason", event.Reason)
		m.emit(listeners, event)
	}
}

func (m *Manager) listenersLocked() []func(Event) {
	out := make([]func(Event), 0, len(m.listeners))
	for _, callback := range m.listeners {
		out = append(out, callback)
	}
	return out
}

// emit isolates listener panics the same way the auth state broadcaster does.
func (m *Manager) emit(listeners []func(Event), event Event) {
	for _, callback := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("timeout listener failed",
						"session_id", event.SessionID,
						"error", fmt.Sprint(r),
					)
				}
			}()
			callback(event)
		}()
	}
}

func snapshot(session *Session) *Session {
	out := *session
	if session.WarningShownAt != nil {
		shownAt := *session.WarningShownAt
		out.WarningShownAt = &shownAt
	}
	return &out
}
