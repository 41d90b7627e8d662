package netsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"authcore/internal/broadcast"
	"authcore/internal/connectivity"
	"authcore/internal/metrics"
	"authcore/internal/refresh"
	"authcore/internal/token"
	"authcore/internal/tokenstore"
)

// OperationKind names a sync step that can be queued for replay.
type OperationKind string

const (
	OpTokenRefresh OperationKind = "token_refresh"
	OpUserDataSync OperationKind = "user_data_sync"
)

// PendingOperation is a sync step that failed while offline or degraded,
// queued for retry on the next sync.
type PendingOperation struct {
	Kind      OperationKind
	Attempts  int
	LastError string
}

// SyncResult is the outcome of one reconciliation pass. Partial success
// counts as success.
type SyncResult struct {
	Success        bool
	SyncedTokens   bool
	SyncedUserData bool
	TokenError     string
	UserDataError  string
	At             time.Time
}

// EventKind enumerates sync notifications.
type EventKind string

const (
	EventSyncCompleted EventKind = "sync_completed"
	EventSyncFailed    EventKind = "sync_failed"
)

// Event carries the full sync result to listeners.
type Event struct {
	Kind   EventKind
	Result SyncResult
}

// Config controls offline validity.
type Config struct {
	OfflineMode          bool
	OfflineTokenValidity time.Duration
}

// Partial updates individual Config fields; nil fields are left untouched.
type Partial struct {
	OfflineMode          *bool
	OfflineTokenValidity *time.Duration
}

func DefaultConfig() Config {
	return Config{
		OfflineMode:          true,
		OfflineTokenValidity: 24 * time.Hour,
	}
}

// Refresher is the token refresh trigger the sync consumes.
type Refresher interface {
	RefreshNow(ctx context.Context) refresh.Result
}

// AuthChecker re-validates the current user against the credential provider.
type AuthChecker interface {
	CheckStoredAuth(ctx context.Context) (*StoredUser, error)
}

// StoredUser is the checker's answer: the re-fetched identity, when any.
type StoredUser struct {
	IsAuthenticated bool
	User            *broadcast.User
}

// Broadcaster is the auth-state sink for re-validated user data.
type Broadcaster interface {
	UpdateAuthState(partial broadcast.Partial, source broadcast.Source) broadcast.AuthState
}

// Sync reconciles auth state across offline/online transitions. Both sync
// steps run independently; neither short-circuits the other, and failing
// steps queue as pending operations replayed on the next pass.
type Sync struct {
	mu          sync.Mutex
	cfg         Config
	observer    connectivity.Observer
	store       tokenstore.Store
	refresher   Refresher
	authChecker AuthChecker
	broadcaster Broadcaster
	pending     map[OperationKind]*PendingOperation
	listeners   map[string]func(Event)
	lastSync    time.Time
	connected   bool
	tracer      trace.Tracer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Sync)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sync) {
		s.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Sync) {
		if cfg.OfflineTokenValidity <= 0 {
			cfg.OfflineTokenValidity = DefaultConfig().OfflineTokenValidity
		}
		s.cfg = cfg
	}
}

func WithBroadcaster(broadcaster Broadcaster) Option {
	return func(s *Sync) {
		s.broadcaster = broadcaster
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sync) {
		s.metrics = m
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(s *Sync) {
		s.now = now
	}
}

func New(observer connectivity.Observer, store tokenstore.Store, refresher Refresher, authChecker AuthChecker, opts ...Option) (*Sync, error) {
	if observer == nil || store == nil || refresher == nil || authChecker == nil {
		return nil, fmt.Errorf("observer, store, refresher, and authChecker are required")
	}
	s := &Sync{
		cfg:         DefaultConfig(),
		observer:    observer,
		store:       store,
		refresher:   refresher,
		authChecker: authChecker,
		pending:     make(map[OperationKind]*PendingOperation),
		listeners:   make(map[string]func(Event)),
		tracer:      otel.Tracer("authcore/netsync"),
		now:         time.Now,
		connected:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// UpdateConfig applies the non-nil fields of the partial config.
func (s *Sync) UpdateConfig(partial Partial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partial.OfflineMode != nil {
		s.cfg.OfflineMode = *partial.OfflineMode
	}
	if partial.OfflineTokenValidity != nil && *partial.OfflineTokenValidity > 0 {
		s.cfg.OfflineTokenValidity = *partial.OfflineTokenValidity
	}
}

func (s *Sync) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// AddListener registers a sync event listener under the given id.
func (s *Sync) AddListener(id string, callback func(Event)) {
	if callback == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[id] = callback
}

func (s *Sync) RemoveListener(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return false
	}
	delete(s.listeners, id)
	return true
}

// Start subscribes to connectivity transitions and syncs whenever the
// device comes back online, until ctx is cancelled.
func (s *Sync) Start(ctx context.Context) error {
	unsubscribe := s.observer.AddEventListener(func(state connectivity.State) {
		s.mu.Lock()
		wasConnected := s.connected
		s.connected = state.IsConnected
		s.mu.Unlock()
		if s.metrics != nil {
			label := "offline"
			if state.IsConnected {
				label = "online"
			}
			s.metrics.OfflineTransactions.WithLabelValues(label).Inc()
		}
		if state.IsConnected && !wasConnected {
			s.logger.Info("connectivity restored, reconciling auth state")
			s.SyncAuthState(ctx)
		}
	})
	defer unsubscribe()

	if state, err := s.observer.Fetch(ctx); err == nil {
		s.mu.Lock()
		s.connected = state.IsConnected
		s.mu.Unlock()
	}

	<-ctx.Done()
	return ctx.Err()
}

// SyncAuthState runs both reconciliation steps independently: a token
// refresh and a user re-fetch. Partial success counts as success.
func (s *Sync) SyncAuthState(ctx context.Context) SyncResult {
	ctx, span := s.tracer.Start(ctx, "auth.sync")
	defer span.End()

	// Isolated result holders, one per step, so neither goroutine touches
	// the other's outcome.
	var (
		tokenSynced bool
		tokenErr    error
		userSynced  bool
		userErr     error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result := s.refresher.RefreshNow(gctx)
		tokenSynced = result.Success
		tokenErr = result.Err
		return nil
	})
	g.Go(func() error {
		stored, err := s.authChecker.CheckStoredAuth(gctx)
		if err != nil {
			userErr = err
			return nil
		}
		userSynced = true
		if stored.IsAuthenticated && stored.User != nil && s.broadcaster != nil {
			authed := true
			s.broadcaster.UpdateAuthState(broadcast.Partial{
				IsAuthenticated: &authed,
				User:            stored.User,
			}, broadcast.SourceRestore)
		}
		return nil
	})
	_ = g.Wait()

	result := SyncResult{
		SyncedTokens:   tokenSynced,
		SyncedUserData: userSynced,
		At:             s.now(),
	}
	result.Success = result.SyncedTokens || result.SyncedUserData
	if tokenErr != nil {
		result.TokenError = tokenErr.Error()
	}
	if userErr != nil {
		result.UserDataError = userErr.Error()
	}

	s.mu.Lock()
	s.recordStepLocked(OpTokenRefresh, tokenSynced, tokenErr)
	s.recordStepLocked(OpUserDataSync, userSynced, userErr)
	if result.Success {
		s.lastSync = result.At
	}
	listeners := s.listenersLocked()
	pendingCount := len(s.pending)
	s.mu.Unlock()

	if s.metrics != nil {
		label := "failed"
		if result.Success {
			label = "completed"
		}
		s.metrics.SyncTotal.WithLabelValues(label).Inc()
		s.metrics.PendingOperations.Set(float64(pendingCount))
	}

	kind := EventSyncFailed
	if result.Success {
		kind = EventSyncCompleted
	}
	s.emit(listeners, Event{Kind: kind, Result: result})
	return result
}

// IsOfflineAuthValid reports whether stored credentials may still be
// trusted while offline: offline mode on, tokens present, access token not
// expired, and the last successful sync recent enough.
func (s *Sync) IsOfflineAuthValid(ctx context.Context) bool {
	s.mu.Lock()
	cfg := s.cfg
	lastSync := s.lastSync
	s.mu.Unlock()

	if !cfg.OfflineMode {
		return false
	}
	tokens, err := s.store.RetrieveTokens(ctx)
	if err != nil {
		return false
	}
	claims, err := token.DecodeClaims(tokens.AccessToken)
	if err != nil {
		return false
	}
	now := s.now()
	if claims.Expired(now) {
		return false
	}
	return !lastSync.IsZero() && now.Sub(lastSync) <= cfg.OfflineTokenValidity
}

// GetPendingOperations returns copies of the queued operations.
func (s *Sync) GetPendingOperations() []PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOperation, 0, len(s.pending))
	for _, op := range s.pending {
		out = append(out, *op)
	}
	return out
}

// Status summarizes the sync component for introspection.
type Status struct {
	IsConnected  bool
	LastSyncTime time.Time
	PendingCount int
}

func (s *Sync) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsConnected:  s.connected,
		LastSyncTime: s.lastSync,
		PendingCount: len(s.pending),
	}
}

func (s *Sync) recordStepLocked(kind OperationKind, synced bool, err error) {
	if synced {
		delete(s.pending, kind)
		return
	}
	op, ok := s.pending[kind]
	if !ok {
		op = &PendingOperation{Kind: kind}
		s.pending[kind] = op
	}
	op.Attempts++
	if err != nil {
		op.LastError = err.Error()
	}
}

func (s *Sync) listenersLocked() []func(Event) {
	out := make([]func(Event), 0, len(s.listeners))
	for _, callback := range s.listeners {
		out = append(out, callback)
	}
	return out
}

func (s *Sync) emit(listeners []func(Event), event Event) {
	for _, callback := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("network sync listener failed", "error", fmt.Sprint(r))
				}
			}()
			callback(event)
		}()
	}
}
