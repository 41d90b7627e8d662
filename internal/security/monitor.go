package security

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"authcore/internal/metrics"
)

// Config bounds the monitor's tracking state.
type Config struct {
	MaxFailedAttempts  int
	AttemptWindow      time.Duration
	LockoutDuration    time.Duration
	MaxEvents          int
	BaselineSize       int
	AutomaticResponse  bool
	AnomalySensitivity string
}

func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts:  5,
		AttemptWindow:      15 * time.Minute,
		LockoutDuration:    30 * time.Minute,
		MaxEvents:          1000,
		BaselineSize:       5,
		AutomaticResponse:  true,
		AnomalySensitivity: "medium",
	}
}

// Partial updates a subset of Config fields.
type Partial struct {
	MaxFailedAttempts  *int
	AttemptWindow      *time.Duration
	LockoutDuration    *time.Duration
	MaxEvents          *int
	BaselineSize       *int
	AutomaticResponse  *bool
	AnomalySensitivity *string
}

// LoginContext describes one login attempt for baseline comparison.
type LoginContext struct {
	IPAddress string
	UserAgent string
	Country   string
}

// Monitor records security events, tracks failed attempts and rate limits,
// and flags logins and behavior that deviate from a user's baseline.
type Monitor struct {
	mu             sync.Mutex
	cfg            Config
	events         []Event
	failedAttempts map[string][]time.Time
	locks          map[string]time.Time
	rateWindows    map[string][]time.Time
	baselines      map[string][]LoginContext
	listeners      map[string]func(Event)
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		defaults := DefaultConfig()
		if cfg.MaxFailedAttempts <= 0 {
			cfg.MaxFailedAttempts = defaults.MaxFailedAttempts
		}
		if cfg.AttemptWindow <= 0 {
			cfg.AttemptWindow = defaults.AttemptWindow
		}
		if cfg.LockoutDuration <= 0 {
			cfg.LockoutDuration = defaults.LockoutDuration
		}
		if cfg.MaxEvents <= 0 {
			cfg.MaxEvents = defaults.MaxEvents
		}
		if cfg.BaselineSize <= 0 {
			cfg.BaselineSize = defaults.BaselineSize
		}
		if cfg.AnomalySensitivity == "" {
			cfg.AnomalySensitivity = defaults.AnomalySensitivity
		}
		m.cfg = cfg
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mx
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		cfg:            DefaultConfig(),
		failedAttempts: make(map[string][]time.Time),
		locks:          make(map[string]time.Time),
		rateWindows:    make(map[string][]time.Time),
		baselines:      make(map[string][]LoginContext),
		listeners:      make(map[string]func(Event)),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Monitor) UpdateConfig(partial Partial) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if partial.MaxFailedAttempts != nil && *partial.MaxFailedAttempts > 0 {
		m.cfg.MaxFailedAttempts = *partial.MaxFailedAttempts
	}
	if partial.AttemptWindow != nil && *partial.AttemptWindow > 0 {
		m.cfg.AttemptWindow = *partial.AttemptWindow
	}
	if partial.LockoutDuration != nil && *partial.LockoutDuration > 0 {
		m.cfg.LockoutDuration = *partial.LockoutDuration
	}
	if partial.MaxEvents != nil && *partial.MaxEvents > 0 {
		m.cfg.MaxEvents = *partial.MaxEvents
	}
	if partial.BaselineSize != nil && *partial.BaselineSize > 0 {
		m.cfg.BaselineSize = *partial.BaselineSize
	}
	if partial.AutomaticResponse != nil {
		m.cfg.AutomaticResponse = *partial.AutomaticResponse
	}
	if partial.AnomalySensitivity != nil {
		m.cfg.AnomalySensitivity = *partial.AnomalySensitivity
	}
}

func (m *Monitor) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AddListener subscribes to every recorded event. The returned function
// unsubscribes.
func (m *Monitor) AddListener(fn func(Event)) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// RecordSecurityEvent appends an event. It never fails: empty severities
// default to low and nil details are allowed.
func (m *Monitor) RecordSecurityEvent(eventType, severity string, details map[string]string, ctx EventContext) Event {
	m.mu.Lock()
	event := m.recordLocked(eventType, severity, details, ctx, nil)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, event)
	return event
}

func (m *Monitor) recordLocked(eventType, severity string, details map[string]string, ctx EventContext, actions []string) Event {
	if severity == "" {
		severity = SeverityLow
	}
	copied := make(map[string]string, len(details))
	for k, v := range details {
		copied[k] = v
	}
	event := Event{
		ID:              uuid.NewString(),
		Type:            eventType,
		Severity:        severity,
		UserID:          ctx.UserID,
		SessionID:       ctx.SessionID,
		IPAddress:       ctx.IPAddress,
		UserAgent:       ctx.UserAgent,
		Timestamp:       m.now(),
		ResponseActions: actions,
		Details:         copied,
	}
	m.events = append(m.events, event)
	if excess := len(m.events) - m.cfg.MaxEvents; excess > 0 {
		m.events = append(m.events[:0:0], m.events[excess:]...)
	}
	if m.metrics != nil {
		m.metrics.SecurityEvents.WithLabelValues(eventType, severity).Inc()
	}
	m.logger.Info("security event recorded",
		"event", eventType,
		"severity", severity,
		"user_id", ctx.UserID,
	)
	return event
}

func (m *Monitor) snapshotListenersLocked() []func(Event) {
	out := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

func (m *Monitor) notify(listeners []func(Event), events ...Event) {
	for _, event := range events {
		for _, fn := range listeners {
			fn(event)
		}
	}
}

// ResolveEvent marks an event resolved. Resolution never reverts.
func (m *Monitor) ResolveEvent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			if m.events[i].Resolved {
				return false
			}
			m.events[i].Resolved = true
			return true
		}
	}
	return false
}

// RecordFailedAttempt notes a failed login for identifier. Reaching the
// configured threshold inside the tracking window emits
// multiple_failed_attempts and, with automatic response on, locks the
// account.
func (m *Monitor) RecordFailedAttempt(identifier string, ctx EventContext) {
	m.mu.Lock()
	now := m.now()
	cutoff := now.Add(-m.cfg.AttemptWindow)
	attempts := m.failedAttempts[identifier][:0]
	for _, at := range m.failedAttempts[identifier] {
		if at.After(cutoff) {
			attempts = append(attempts, at)
		}
	}
	attempts = append(attempts, now)
	m.failedAttempts[identifier] = attempts

	emitted := []Event{m.recordLocked(EventFailedLogin, SeverityMedium, map[string]string{
		"identifier": identifier,
		"attempts":   strconv.Itoa(len(attempts)),
	}, ctx, nil)}

	if len(attempts) >= m.cfg.MaxFailedAttempts {
		var actions []string
		if m.cfg.AutomaticResponse {
			actions = []string{"lock_account"}
		}
		emitted = append(emitted, m.recordLocked(EventMultipleFailed, SeverityHigh, map[string]string{
			"identifier": identifier,
			"attempts":   strconv.Itoa(len(attempts)),
		}, ctx, actions))
		if m.cfg.AutomaticResponse {
			emitted = append(emitted, m.lockLocked(identifier, now))
		}
	}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, emitted...)
}

// IsAccountLocked reports whether identifier is currently locked. Expired
// lockouts clear on read.
func (m *Monitor) IsAccountLocked(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLockedLocked(identifier, m.now())
}

func (m *Monitor) isLockedLocked(identifier string, now time.Time) bool {
	until, ok := m.locks[identifier]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(m.locks, identifier)
	if m.metrics != nil {
		m.metrics.LockedAccounts.Dec()
	}
	return false
}

// LockAccount locks identifier for the configured lockout duration.
func (m *Monitor) LockAccount(identifier string) {
	m.mu.Lock()
	event := m.lockLocked(identifier, m.now())
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, event)
}

func (m *Monitor) lockLocked(identifier string, now time.Time) Event {
	if _, locked := m.locks[identifier]; !locked && m.metrics != nil {
		m.metrics.LockedAccounts.Inc()
	}
	m.locks[identifier] = now.Add(m.cfg.LockoutDuration)
	return m.recordLocked(EventAccountLocked, SeverityHigh, map[string]string{
		"identifier": identifier,
	}, EventContext{UserID: identifier}, []string{"lock_account"})
}

// UnlockAccount clears a lock. Returns false if identifier was not locked.
func (m *Monitor) UnlockAccount(identifier string) bool {
	m.mu.Lock()
	now := m.now()
	if !m.isLockedLocked(identifier, now) {
		m.mu.Unlock()
		return false
	}
	delete(m.locks, identifier)
	delete(m.failedAttempts, identifier)
	if m.metrics != nil {
		m.metrics.LockedAccounts.Dec()
	}
	event := m.recordLocked(EventAccountUnlocked, SeverityLow, map[string]string{
		"identifier": identifier,
	}, EventContext{UserID: identifier}, nil)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, event)
	return true
}

// CheckRateLimit counts one call for identifier+action and reports whether
// the window's limit is exceeded. The call that pushes the count past
// limit, and every later call inside the window, returns true.
func (m *Monitor) CheckRateLimit(identifier, action string, limit int, window time.Duration) bool {
	m.mu.Lock()
	now := m.now()
	key := identifier + ":" + action
	cutoff := now.Add(-window)
	calls := m.rateWindows[key][:0]
	for _, at := range m.rateWindows[key] {
		if at.After(cutoff) {
			calls = append(calls, at)
		}
	}
	calls = append(calls, now)
	m.rateWindows[key] = calls

	if len(calls) <= limit {
		m.mu.Unlock()
		return false
	}
	if m.metrics != nil {
		m.metrics.RateLimitExceeded.Inc()
	}
	event := m.recordLocked(EventRateLimitExceeded, SeverityMedium, map[string]string{
		"identifier": identifier,
		"action":     action,
		"limit":      strconv.Itoa(limit),
		"calls":      strconv.Itoa(len(calls)),
	}, EventContext{UserID: identifier}, nil)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, event)
	return true
}

// CheckSuspiciousLogin compares a login against the user's recent accepted
// logins. A login whose country or parsed device matches none of them is
// suspicious; the emitted event lists the differing factors in
// details.reasons.
func (m *Monitor) CheckSuspiciousLogin(userID string, attempt LoginContext) (bool, []string) {
	m.mu.Lock()
	baseline := m.baselines[userID]

	var reasons []string
	if len(baseline) > 0 {
		if attempt.Country != "" && !countryKnown(baseline, attempt.Country) {
			reasons = append(reasons, "new_location")
		}
		if attempt.UserAgent != "" && !deviceKnown(baseline, attempt.UserAgent) {
			reasons = append(reasons, "new_device")
		}
	}

	m.baselines[userID] = append(baseline, attempt)
	if excess := len(m.baselines[userID]) - m.cfg.BaselineSize; excess > 0 {
		m.baselines[userID] = append(m.baselines[userID][:0:0], m.baselines[userID][excess:]...)
	}

	if len(reasons) == 0 {
		m.mu.Unlock()
		return false, nil
	}
	event := m.recordLocked(EventSuspiciousLogin, SeverityHigh, map[string]string{
		"reasons": strings.Join(reasons, ","),
		"country": attempt.Country,
	}, EventContext{UserID: userID, IPAddress: attempt.IPAddress, UserAgent: attempt.UserAgent}, nil)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, event)
	return true, reasons
}

func countryKnown(baseline []LoginContext, country string) bool {
	for _, known := range baseline {
		if strings.EqualFold(known.Country, country) {
			return true
		}
	}
	return false
}

func deviceKnown(baseline []LoginContext, rawUA string) bool {
	device := deviceSignature(rawUA)
	for _, known := range baseline {
		if known.UserAgent != "" && deviceSignature(known.UserAgent) == device {
			return true
		}
	}
	return false
}

// deviceSignature reduces a user-agent string to platform+browser so minor
// version bumps do not read as a new device.
func deviceSignature(rawUA string) string {
	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()
	return ua.OSInfo().Name + "/" + browser
}

// GetSecurityEvents returns events matching filter, oldest first.
func (m *Monitor) GetSecurityEvents(filter Filter) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, event := range m.events {
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		if filter.Severity != "" && event.Severity != filter.Severity {
			continue
		}
		if filter.Resolved != nil && event.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, event)
	}
	return out
}

// GetSecurityMetrics aggregates the retained events.
func (m *Monitor) GetSecurityMetrics() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := Summary{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}
	for _, event := range m.events {
		summary.TotalEvents++
		summary.ByType[event.Type]++
		summary.BySeverity[event.Severity]++
		if event.Resolved {
			summary.ResolvedCount++
		}
	}
	now := m.now()
	for identifier, until := range m.locks {
		if now.Before(until) {
			summary.LockedAccounts++
		} else {
			delete(m.locks, identifier)
			if m.metrics != nil {
				m.metrics.LockedAccounts.Dec()
			}
		}
	}
	return summary
}
