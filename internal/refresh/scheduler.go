package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"authcore/internal/broadcast"
	"authcore/internal/errclass"
	"authcore/internal/metrics"
	"authcore/internal/retry"
	"authcore/internal/sentinel"
	"authcore/internal/token"
	"authcore/internal/tokenstore"
	dErrors "authcore/pkg/domain-errors"
)

// State is the scheduler's coarse lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateRefreshing State = "refreshing"
	StateBackoff    State = "backoff"
)

// Result is delivered to refresh listeners after every cycle that attempted
// a refresh.
type Result struct {
	Success   bool
	Refreshed bool
	NewTokens *tokenstore.Tokens
	Err       error
}

// Stats are the scheduler's running counters.
type Stats struct {
	State           State
	RefreshCount    int
	ErrorCount      int
	LastRefreshTime time.Time
	LastError       string
}

// Config holds refresh pacing. Threshold is how close to expiry a token may
// get before the scheduler refreshes it.
type Config struct {
	Interval   time.Duration
	Threshold  time.Duration
	MaxRetries int
}

// Partial updates individual Config fields; nil fields are left untouched.
type Partial struct {
	Interval   *time.Duration
	Threshold  *time.Duration
	MaxRetries *int
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		Threshold:  5 * time.Minute,
		MaxRetries: 3,
	}
}

// TokenRefresher is the credential-provider slice the scheduler consumes.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*tokenstore.Tokens, error)
}

// Broadcaster is the auth-state sink for successful refreshes.
type Broadcaster interface {
	UpdateAuthState(partial broadcast.Partial, source broadcast.Source) broadcast.AuthState
}

// Scheduler keeps stored tokens fresh: on an interval, on app foreground,
// or on demand it decodes the access token expiry and refreshes through the
// retry executor when the expiry is close. Failed cycles never overwrite
// the stored tokens.
type Scheduler struct {
	mu          sync.Mutex
	cfg         Config
	store       tokenstore.Store
	refresher   TokenRefresher
	executor    *retry.Executor
	broadcaster Broadcaster
	classify    func(error) errclass.Classification
	listeners   map[string]func(Result)
	group       singleflight.Group
	scope       func(ctx context.Context) (context.Context, context.CancelFunc)
	tracer      trace.Tracer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	// persistMu serializes the persist-and-broadcast step against
	// Invalidate, so a cycle that raced a sign-out can never write its
	// result back.
	persistMu sync.Mutex
	epoch     uint64

	state       State
	refreshes   int
	errorCount  int
	lastRefresh time.Time
	lastError   string
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		defaults := DefaultConfig()
		if cfg.Interval <= 0 {
			cfg.Interval = defaults.Interval
		}
		if cfg.Threshold <= 0 {
			cfg.Threshold = defaults.Threshold
		}
		if cfg.MaxRetries < 0 {
			cfg.MaxRetries = defaults.MaxRetries
		}
		s.cfg = cfg
	}
}

func WithBroadcaster(broadcaster Broadcaster) Option {
	return func(s *Scheduler) {
		s.broadcaster = broadcaster
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithScope derives the context used for ticker-driven cycles, letting the
// owner bind periodic refreshes to the current authenticated period so a
// sign-out cancels them mid-flight.
func WithScope(scope func(ctx context.Context) (context.Context, context.CancelFunc)) Option {
	return func(s *Scheduler) {
		s.scope = scope
	}
}

// WithClassifier selects retry strategy per failure instead of the default
// exponential backoff.
func WithClassifier(classify func(error) errclass.Classification) Option {
	return func(s *Scheduler) {
		s.classify = classify
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(store tokenstore.Store, refresher TokenRefresher, executor *retry.Executor, opts ...Option) (*Scheduler, error) {
	if store == nil || refresher == nil || executor == nil {
		return nil, fmt.Errorf("store, refresher, and executor are required")
	}
	s := &Scheduler{
		cfg:       DefaultConfig(),
		store:     store,
		refresher: refresher,
		executor:  executor,
		listeners: make(map[string]func(Result)),
		tracer:    otel.Tracer("authcore/refresh"),
		now:       time.Now,
		state:     StateIdle,
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
func (s *Scheduler) UpdateConfig(partial Partial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partial.Interval != nil && *partial.Interval > 0 {
		s.cfg.Interval = *partial.Interval
	}
	if partial.Threshold != nil && *partial.Threshold > 0 {
		s.cfg.Threshold = *partial.Threshold
	}
	if partial.MaxRetries != nil && *partial.MaxRetries >= 0 {
		s.cfg.MaxRetries = *partial.MaxRetries
	}
}

func (s *Scheduler) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:           s.state,
		RefreshCount:    s.refreshes,
		ErrorCount:      s.errorCount,
		LastRefreshTime: s.lastRefresh,
		LastError:       s.lastError,
	}
}

// AddListener registers a refresh result listener under the given id.
func (s *Scheduler) AddListener(id string, callback func(Result)) {
	if callback == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[id] = callback
}

func (s *Scheduler) RemoveListener(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return false
	}
	delete(s.listeners, id)
	return true
}

// Start runs the periodic refresh loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	interval := s.cfg.Interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tickCtx, release := s.scopedContext(ctx)
			s.RefreshNow(tickCtx)
			release()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) scopedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.scope == nil {
		return ctx, func() {}
	}
	return s.scope(ctx)
}

// Invalidate discards any refresh cycle still in flight: a cycle that began
// before the call will neither persist nor broadcast its result. Called on
// sign-out before stored tokens are cleared.
func (s *Scheduler) Invalidate() {
	s.persistMu.Lock()
	s.epoch++
	s.persistMu.Unlock()
}

func (s *Scheduler) currentEpoch() uint64 {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.epoch
}

// OnAppForeground triggers an immediate check when the app returns to the
// foreground.
func (s *Scheduler) OnAppForeground(ctx context.Context) Result {
	return s.RefreshNow(ctx)
}

// RefreshNow runs one check/refresh cycle. Concurrent callers coalesce into
// a single cycle and share its result.
func (s *Scheduler) RefreshNow(ctx context.Context) Result {
	value, _, _ := s.group.Do("refresh", func() (any, error) {
		return s.cycle(ctx), nil
	})
	return value.(Result)
}

func (s *Scheduler) cycle(ctx context.Context) Result {
	start := s.now()
	epoch := s.currentEpoch()
	ctx, span := s.tracer.Start(ctx, "token.refresh")
	defer span.End()

	s.setState(StateChecking)

	tokens, err := s.store.RetrieveTokens(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNoTokens) {
			s.setState(StateIdle)
			return Result{Success: true, Refreshed: false}
		}
		s.setState(StateIdle)
		return s.fail(dErrors.Wrap(err, dErrors.CodeInternal, "could not read stored tokens"))
	}

	// Decode failure is treated as expired: refresh rather than trust a
	// token we cannot read.
	needsRefresh := true
	if claims, decodeErr := token.DecodeClaims(tokens.AccessToken); decodeErr == nil {
		s.mu.Lock()
		threshold := s.cfg.Threshold
		s.mu.Unlock()
		needsRefresh = claims.ExpiresWithin(s.now(), threshold)
	}
	if !needsRefresh {
		s.setState(StateIdle)
		return Result{Success: true, Refreshed: false}
	}

	s.setState(StateRefreshing)
	span.AddEvent("refreshing")

	s.mu.Lock()
	maxRetries := s.cfg.MaxRetries
	s.mu.Unlock()

	var fresh *tokenstore.Tokens
	attempt := func(ctx context.Context) error {
		got, refreshErr := s.refresher.RefreshToken(ctx, tokens.RefreshToken)
		if refreshErr != nil {
			return refreshErr
		}
		fresh = got
		return nil
	}

	// First attempt decides the retry strategy: the classification of its
	// failure drives how the executor paces the remaining attempts.
	retryCount := 0
	if firstErr := attempt(ctx); firstErr != nil {
		strategy := errclass.StrategyExponentialBackoff
		retryable := true
		if s.classify != nil {
			classification := s.classify(firstErr)
			strategy = classification.RetryStrategy
			retryable = classification.Retryable
		}
		if !retryable || strategy == errclass.StrategyNoRetry || maxRetries == 0 {
			s.setState(StateBackoff)
			return s.fail(firstErr)
		}
		outcome := s.executor.Execute(ctx, attempt, maxRetries-1, strategy)
		retryCount = outcome.RetryCount
		if !outcome.Success {
			s.setState(StateBackoff)
			span.SetAttributes(attribute.Int("retry_count", retryCount))
			return s.fail(outcome.Err)
		}
	}

	// A result arriving after sign-out is discarded: never re-authenticate
	// a signed-out user. persistMu makes the discard check, the persist,
	// and the broadcast one atomic step with respect to Invalidate.
	if ctx.Err() != nil {
		s.setState(StateIdle)
		return Result{Success: false, Refreshed: false, Err: ctx.Err()}
	}
	s.persistMu.Lock()
	if s.epoch != epoch {
		s.persistMu.Unlock()
		s.setState(StateIdle)
		return Result{Success: false, Refreshed: false, Err: sentinel.ErrSignedOut}
	}
	if has, hasErr := s.store.HasStoredTokens(ctx); hasErr != nil || !has {
		s.persistMu.Unlock()
		s.setState(StateIdle)
		return Result{Success: false, Refreshed: false, Err: sentinel.ErrSignedOut}
	}
	if err := s.store.StoreTokens(ctx, *fresh); err != nil {
		s.persistMu.Unlock()
		s.setState(StateBackoff)
		return s.fail(dErrors.Wrap(err, dErrors.CodeInternal, "could not persist refreshed tokens"))
	}
	s.broadcastTokens(fresh)
	s.persistMu.Unlock()

	s.mu.Lock()
	s.state = StateIdle
	s.refreshes++
	s.errorCount = 0
	s.lastError = ""
	s.lastRefresh = s.now()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RefreshTotal.WithLabelValues("success").Inc()
		s.metrics.RefreshDuration.Observe(s.now().Sub(start).Seconds())
	}
	s.logger.Info("tokens refreshed", "retry_count", retryCount)

	result := Result{Success: true, Refreshed: true, NewTokens: fresh}
	s.notify(listeners, result)
	return result
}

func (s *Scheduler) broadcastTokens(fresh *tokenstore.Tokens) {
	if s.broadcaster == nil {
		return
	}
	authed := true
	tokens := &broadcast.Tokens{
		AccessToken:  fresh.AccessToken,
		IDToken:      fresh.IDToken,
		RefreshToken: fresh.RefreshToken,
	}
	if claims, err := token.DecodeClaims(fresh.AccessToken); err == nil {
		tokens.ExpiresAt = claims.ExpiresAt()
	}
	s.broadcaster.UpdateAuthState(broadcast.Partial{
		IsAuthenticated: &authed,
		Tokens:          tokens,
	}, broadcast.SourceRefresh)
}

// fail records the error, notifies listeners, and leaves stored tokens
// untouched.
func (s *Scheduler) fail(err error) Result {
	s.mu.Lock()
	s.errorCount++
	s.lastError = err.Error()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RefreshTotal.WithLabelValues("error").Inc()
	}
	s.logger.Warn("token refresh failed", "error", err)

	result := Result{Success: false, Refreshed: false, Err: err}
	s.notify(listeners, result)
	return result
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) listenersLocked() []func(Result) {
	out := make([]func(Result), 0, len(s.listeners))
	for _, callback := range s.listeners {
		out = append(out, callback)
	}
	return out
}

func (s *Scheduler) notify(listeners []func(Result), result Result) {
	for _, callback := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("refresh listener failed", "error", fmt.Sprint(r))
				}
			}()
			callback(result)
		}()
	}
}
