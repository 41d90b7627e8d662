package broadcast

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"authcore/internal/metrics"
)

// Config controls history retention.
type Config struct {
	HistoryEnabled bool
	HistorySize    int
}

// ConfigPartial updates individual Config fields; nil fields are untouched.
type ConfigPartial struct {
	HistoryEnabled *bool
	HistorySize    *int
}

func defaultConfig() Config {
	return Config{HistoryEnabled: true, HistorySize: 50}
}

type registeredListener struct {
	Listener
	seq int
}

// Broadcaster owns the single current AuthState and fans updates out to
// priority-ordered listeners. UpdateAuthState is the synchronization point:
// when it returns, every listener has observed the new state.
type Broadcaster struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	cfg       Config
	state     AuthState
	listeners []*registeredListener
	history   []Event
	notifying bool
	pending   []*registeredListener
	nextSeq   int
	lastEvent time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

type Option func(*Broadcaster)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(b *Broadcaster) {
		b.cfg.HistoryEnabled = cfg.HistoryEnabled
		if cfg.HistorySize > 0 {
			b.cfg.HistorySize = cfg.HistorySize
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		b.now = now
	}
}

func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		cfg:   defaultConfig(),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.state = AuthState{Source: SourceRestore, LastUpdated: b.now()}
	return b
}

// UpdateConfig applies the non-nil fields of the partial config.
func (b *Broadcaster) UpdateConfig(partial ConfigPartial) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if partial.HistoryEnabled != nil {
		b.cfg.HistoryEnabled = *partial.HistoryEnabled
	}
	if partial.HistorySize != nil && *partial.HistorySize > 0 {
		b.cfg.HistorySize = *partial.HistorySize
		b.trimHistoryLocked()
	}
}

func (b *Broadcaster) GetConfig() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// AddListener registers the listener and immediately invokes it once with
// the current state, so late subscribers never miss the initial snapshot.
// A listener with an already-registered id replaces the previous entry.
// Registering from inside another listener's callback is allowed: the
// initial snapshot is then delivered right after the in-progress
// notification pass completes instead of inline.
func (b *Broadcaster) AddListener(listener Listener) {
	if listener.Callback == nil {
		return
	}
	if listener.ID == "" {
		listener.ID = b.newID()
	}
	registered := &registeredListener{Listener: listener}
	b.mu.Lock()
	b.removeLocked(listener.ID)
	registered.seq = b.nextSeq
	b.listeners = append(b.listeners, registered)
	b.nextSeq++
	if b.notifying {
		b.pending = append(b.pending, registered)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.mu.Lock()
	state := b.state.clone()
	b.mu.Unlock()
	b.invoke(registered, state)
}

// RemoveListener unregisters by id and reports whether it was present.
func (b *Broadcaster) RemoveListener(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Broadcaster) removeLocked(id string) bool {
	for i, l := range b.listeners {
		if l.ID == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveComponentListeners drops every listener registered under the
// component and returns how many were removed.
func (b *Broadcaster) RemoveComponentListeners(component string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.listeners[:0]
	removed := 0
	for _, l := range b.listeners {
		if l.Component == component {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	b.listeners = kept
	return removed
}

// UpdateAuthState merges the partial onto the current state, stamps
// LastUpdated, derives a fresh session id only for login-sourced updates,
// then synchronously notifies every listener in priority order before
// returning. A failing listener never prevents the rest from running.
//
// A state that has never carried a session id is bootstrapped with one on
// its first update regardless of source, so a restored session gets an id
// for session tracking; every later non-login update keeps the id stable.
func (b *Broadcaster) UpdateAuthState(partial Partial, source Source) AuthState {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	next := b.state.clone()
	if partial.IsAuthenticated != nil {
		next.IsAuthenticated = *partial.IsAuthenticated
	}
	if partial.ClearUser {
		next.User = nil
	} else if partial.User != nil {
		user := *partial.User
		next.User = &user
	}
	if partial.ClearTokens {
		next.Tokens = nil
	} else if partial.Tokens != nil {
		tokens := *partial.Tokens
		next.Tokens = &tokens
	}
	next.Source = source
	next.LastUpdated = b.now()
	if source == SourceLogin || next.SessionID == "" {
		next.SessionID = b.newID()
	}
	b.state = next
	b.lastEvent = next.LastUpdated
	if b.cfg.HistoryEnabled {
		b.history = append(b.history, Event{State: next.clone(), Source: source, At: next.LastUpdated})
		b.trimHistoryLocked()
	}
	targets := b.orderedListenersLocked()
	b.notifying = true
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Broadcasts.WithLabelValues(string(source)).Inc()
	}
	for _, l := range targets {
		b.invoke(l, next.clone())
	}
	b.finishNotify()
	return next.clone()
}

// ForceBroadcast re-sends the current state to all listeners without
// mutating it. Used after bulk registration or app resume.
func (b *Broadcaster) ForceBroadcast() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	state := b.state.clone()
	targets := b.orderedListenersLocked()
	b.notifying = true
	b.mu.Unlock()

	for _, l := range targets {
		b.invoke(l, state.clone())
	}
	b.finishNotify()
}

// finishNotify delivers initial snapshots to listeners that registered
// during the pass, then clears the in-progress marker. Caller holds
// notifyMu.
func (b *Broadcaster) finishNotify() {
	for {
		b.mu.Lock()
		queued := b.pending
		b.pending = nil
		if len(queued) == 0 {
			b.notifying = false
			b.mu.Unlock()
			return
		}
		state := b.state.clone()
		b.mu.Unlock()
		for _, l := range queued {
			b.invoke(l, state.clone())
		}
	}
}

// GetState returns a defensive copy of the current state.
func (b *Broadcaster) GetState() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

// GetStats reports listener count, history depth, current state, and the
// last broadcast time.
func (b *Broadcaster) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ListenerCount: len(b.listeners),
		HistoryCount:  len(b.history),
		CurrentState:  b.state.clone(),
		LastEventTime: b.lastEvent,
	}
}

// History returns a copy of the retained broadcast events, oldest first.
func (b *Broadcaster) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// orderedListenersLocked snapshots listeners in descending priority order,
// ties preserving registration order.
func (b *Broadcaster) orderedListenersLocked() []*registeredListener {
	targets := make([]*registeredListener, len(b.listeners))
	copy(targets, b.listeners)
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Priority != targets[j].Priority {
			return targets[i].Priority > targets[j].Priority
		}
		return targets[i].seq < targets[j].seq
	})
	return targets
}

// invoke runs one callback, isolating panics so one faulty listener cannot
// starve the rest.
func (b *Broadcaster) invoke(l *registeredListener, state AuthState) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ListenerFaults.Inc()
			}
			b.logger.Error("auth state listener failed",
				"listener_id", l.ID,
				"component", l.Component,
				"error", fmt.Sprint(r),
			)
		}
	}()
	l.Callback(state)
}

func (b *Broadcaster) trimHistoryLocked() {
	if overflow := len(b.history) - b.cfg.HistorySize; overflow > 0 {
		b.history = append(b.history[:0], b.history[overflow:]...)
	}
}
