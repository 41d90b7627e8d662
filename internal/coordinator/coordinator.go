package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"authcore/internal/broadcast"
	"authcore/internal/connectivity"
	"authcore/internal/errclass"
	"authcore/internal/errhandler"
	"authcore/internal/metrics"
	"authcore/internal/netsync"
	"authcore/internal/provider"
	"authcore/internal/refresh"
	"authcore/internal/retry"
	"authcore/internal/security"
	"authcore/internal/session"
	"authcore/internal/token"
	"authcore/internal/tokenstore"
	dErrors "authcore/pkg/domain-errors"
)

// Deps are the external collaborators the coordinator composes around.
// Provider and Store are required; Observer enables connectivity-aware
// classification and reconnect syncs; Federated is optional.
type Deps struct {
	Provider  provider.CredentialProvider
	Federated provider.FederatedProvider
	Store     tokenstore.Store
	Observer  connectivity.Observer
}

// Config is the coordinator-level tuning surface. Component-specific knobs
// stay on the components; these are the values the agent wires from its
// environment.
type Config struct {
	Language             errclass.Language
	SessionTimeout       time.Duration
	WarningThreshold     time.Duration
	RefreshInterval      time.Duration
	RefreshThreshold     time.Duration
	OfflineMode          bool
	OfflineTokenValidity time.Duration
	LoginRateLimit       int
	LoginRateWindow      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Language:             errclass.LanguageEnglish,
		SessionTimeout:       30 * time.Minute,
		WarningThreshold:     5 * time.Minute,
		RefreshInterval:      time.Minute,
		RefreshThreshold:     5 * time.Minute,
		OfflineMode:          true,
		OfflineTokenValidity: 24 * time.Hour,
		LoginRateLimit:       10,
		LoginRateWindow:      time.Minute,
	}
}

// Coordinator is the composition root of the session lifecycle core: it
// owns one instance of every component, wires failures through the
// classifier and error handler, and runs the background workers.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	broadcaster *broadcast.Broadcaster
	classifier  *errclass.Classifier
	executor    *retry.Executor
	scheduler   *refresh.Scheduler
	sessions    *session.Manager
	sync        *netsync.Sync
	errors      *errhandler.Handler
	security    *security.Monitor

	runCancel context.CancelFunc
	wg        sync.WaitGroup
	running   bool

	// loginCtx parents in-flight refresh and sync work for the current
	// authenticated period; sign-out cancels it.
	loginCtx    context.Context
	loginCancel context.CancelFunc
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		defaults := DefaultConfig()
		if cfg.Language == "" {
			cfg.Language = defaults.Language
		}
		if cfg.SessionTimeout <= 0 {
			cfg.SessionTimeout = defaults.SessionTimeout
		}
		if cfg.WarningThreshold <= 0 {
			cfg.WarningThreshold = defaults.WarningThreshold
		}
		if cfg.RefreshInterval <= 0 {
			cfg.RefreshInterval = defaults.RefreshInterval
		}
		if cfg.RefreshThreshold <= 0 {
			cfg.RefreshThreshold = defaults.RefreshThreshold
		}
		if cfg.OfflineTokenValidity <= 0 {
			cfg.OfflineTokenValidity = defaults.OfflineTokenValidity
		}
		if cfg.LoginRateLimit <= 0 {
			cfg.LoginRateLimit = defaults.LoginRateLimit
		}
		if cfg.LoginRateWindow <= 0 {
			cfg.LoginRateWindow = defaults.LoginRateWindow
		}
		c.cfg = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func New(deps Deps, opts ...Option) (*Coordinator, error) {
	if deps.Provider == nil {
		return nil, errors.New("credential provider is required")
	}
	if deps.Store == nil {
		return nil, errors.New("token store is required")
	}
	c := &Coordinator{
		cfg:         DefaultConfig(),
		deps:        deps,
		loginCtx:    context.Background(),
		loginCancel: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	c.wire()
	return c, nil
}

func (c *Coordinator) build() error {
	classifierOpts := []errclass.Option{errclass.WithLanguage(c.cfg.Language)}
	if state, ok := c.deps.Observer.(errclass.ConnectivityState); ok && c.deps.Observer != nil {
		classifierOpts = append(classifierOpts, errclass.WithConnectivity(state))
	}
	c.classifier = errclass.New(classifierOpts...)

	broadcasterOpts := []broadcast.Option{broadcast.WithLogger(c.logger)}
	if c.metrics != nil {
		broadcasterOpts = append(broadcasterOpts, broadcast.WithMetrics(c.metrics))
	}
	c.broadcaster = broadcast.New(broadcasterOpts...)
	executorOpts := []retry.Option{
		retry.WithLogger(c.logger),
		retry.WithClassifier(c.classifier.Classify),
	}
	if c.metrics != nil {
		executorOpts = append(executorOpts, retry.WithMetrics(c.metrics))
	}
	c.executor = retry.New(executorOpts...)

	schedulerOpts := []refresh.Option{
		refresh.WithLogger(c.logger),
		refresh.WithBroadcaster(c.broadcaster),
		refresh.WithClassifier(c.classifier.Classify),
		refresh.WithScope(c.scopedContext),
		refresh.WithConfig(refresh.Config{
			Interval:   c.cfg.RefreshInterval,
			Threshold:  c.cfg.RefreshThreshold,
			MaxRetries: refresh.DefaultConfig().MaxRetries,
		}),
	}
	if c.metrics != nil {
		schedulerOpts = append(schedulerOpts, refresh.WithMetrics(c.metrics))
	}
	scheduler, err := refresh.NewScheduler(c.deps.Store, c.deps.Provider, c.executor, schedulerOpts...)
	if err != nil {
		return err
	}
	c.scheduler = scheduler

	sessionOpts := []session.Option{
		session.WithLogger(c.logger),
		session.WithConfig(session.Config{
			Timeout:          c.cfg.SessionTimeout,
			WarningThreshold: c.cfg.WarningThreshold,
		}),
	}
	if c.metrics != nil {
		sessionOpts = append(sessionOpts, session.WithMetrics(c.metrics))
	}
	c.sessions = session.NewManager(sessionOpts...)

	if c.deps.Observer != nil {
		syncOpts := []netsync.Option{
			netsync.WithLogger(c.logger),
			netsync.WithBroadcaster(c.broadcaster),
			netsync.WithConfig(netsync.Config{
				OfflineMode:          c.cfg.OfflineMode,
				OfflineTokenValidity: c.cfg.OfflineTokenValidity,
			}),
		}
		if c.metrics != nil {
			syncOpts = append(syncOpts, netsync.WithMetrics(c.metrics))
		}
		netSync, err := netsync.New(c.deps.Observer, c.deps.Store, c.scheduler, providerAuthChecker{c.deps.Provider}, syncOpts...)
		if err != nil {
			return err
		}
		c.sync = netSync
	}

	handlerOpts := []errhandler.Option{errhandler.WithLogger(c.logger)}
	if c.metrics != nil {
		handlerOpts = append(handlerOpts, errhandler.WithMetrics(c.metrics))
	}
	handler, err := errhandler.New(c.classifier.Classify, handlerOpts...)
	if err != nil {
		return err
	}
	c.errors = handler

	securityOpts := []security.Option{security.WithLogger(c.logger)}
	if c.metrics != nil {
		securityOpts = append(securityOpts, security.WithMetrics(c.metrics))
	}
	c.security = security.New(securityOpts...)
	return nil
}

// wire connects component event streams to the coordinated control flow.
func (c *Coordinator) wire() {
	c.scheduler.AddListener("coordinator", func(result refresh.Result) {
		if result.Success {
			return
		}
		c.ReportError(result.Err, errhandler.Context{Service: "authentication", Operation: "token_refresh"})
	})

	c.sessions.AddListener("coordinator", func(event session.Event) {
		if event.Kind != session.EventExpired || event.Reason == "sign_out" {
			return
		}
		current := c.broadcaster.GetState()
		if current.SessionID != event.SessionID || !current.IsAuthenticated {
			return
		}
		c.logger.Info("current session expired, signing out", "reason", event.Reason)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.SignOut(ctx); err != nil {
			c.logger.Error("sign-out after session expiry failed", "error", err)
		}
	})
}

// Start launches the background workers. It returns immediately; Stop
// shuts them down.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("coordinator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.running = true

	c.startWorker(runCtx, "refresh", c.scheduler.Start)
	c.startWorker(runCtx, "session", c.sessions.Start)
	if c.sync != nil {
		c.startWorker(runCtx, "netsync", c.sync.Start)
	}
	if prober, ok := c.deps.Observer.(interface {
		Start(ctx context.Context) error
	}); ok && c.deps.Observer != nil {
		c.startWorker(runCtx, "connectivity", prober.Start)
	}
	return nil
}

func (c *Coordinator) startWorker(ctx context.Context, name string, run func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("worker stopped", "worker", name, "error", err)
		}
	}()
}

// Stop cancels the workers and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.runCancel
	c.mu.Unlock()
	cancel()
	c.wg.Wait()
}

// ReportError routes a failure through the error handler and executes the
// coordinated response: security bookkeeping for auth failures, forced
// sign-out when the result demands reauthentication.
func (c *Coordinator) ReportError(err error, errCtx errhandler.Context) errhandler.HandlerResult {
	if err == nil {
		return errhandler.HandlerResult{}
	}
	classification := c.classifier.Classify(err)
	result := c.errors.HandleError(err, errCtx)

	if classification.Type == errclass.TypeAuthentication {
		c.security.RecordSecurityEvent("authentication_failure", security.SeverityHigh, map[string]string{
			"service":   errCtx.Service,
			"operation": errCtx.Operation,
		}, security.EventContext{UserID: errCtx.UserID, SessionID: errCtx.SessionID})
	}

	if result.RequiresReauth || result.RequiresLogout {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if signOutErr := c.SignOut(ctx); signOutErr != nil {
			c.logger.Error("forced sign-out failed", "error", signOutErr)
		}
	}
	return result
}

// Login authenticates with the credential provider and establishes the
// local session.
func (c *Coordinator) Login(ctx context.Context, email, password string) (broadcast.AuthState, error) {
	if c.security.IsAccountLocked(email) {
		return broadcast.AuthState{}, dErrors.New(dErrors.CodeAuthentication, "account is locked")
	}
	if c.security.CheckRateLimit(email, "login", c.cfg.LoginRateLimit, c.cfg.LoginRateWindow) {
		return broadcast.AuthState{}, dErrors.New(dErrors.CodeRateLimit, "too many login attempts")
	}

	result, err := c.deps.Provider.Login(ctx, email, password)
	if err != nil {
		c.security.RecordFailedAttempt(email, security.EventContext{UserID: email})
		c.ReportError(err, errhandler.Context{Service: "authentication", Operation: "login"})
		return broadcast.AuthState{}, dErrors.Wrap(err, dErrors.CodeAuthentication, "login failed")
	}
	return c.establish(ctx, result, broadcast.SourceLogin)
}

// LoginFederated signs in through the federated provider when available.
func (c *Coordinator) LoginFederated(ctx context.Context) (broadcast.AuthState, error) {
	if c.deps.Federated == nil || !c.deps.Federated.IsAvailable(ctx) {
		return broadcast.AuthState{}, dErrors.New(dErrors.CodeConfiguration, "federated sign-in is not available")
	}
	result, err := c.deps.Federated.SignIn(ctx)
	if err != nil {
		c.ReportError(err, errhandler.Context{Service: "authentication", Operation: "federated_login"})
		return broadcast.AuthState{}, dErrors.Wrap(err, dErrors.CodeAuthentication, "federated login failed")
	}
	return c.establish(ctx, result, broadcast.SourceLogin)
}

// RestoreSession rehydrates auth state from previously stored credentials.
func (c *Coordinator) RestoreSession(ctx context.Context) (broadcast.AuthState, error) {
	stored, err := c.deps.Provider.CheckStoredAuth(ctx)
	if err != nil {
		c.ReportError(err, errhandler.Context{Service: "authentication", Operation: "restore"})
		return broadcast.AuthState{}, dErrors.Wrap(err, dErrors.CodeAuthentication, "session restore failed")
	}
	if !stored.IsAuthenticated || stored.User == nil || stored.Tokens == nil {
		return broadcast.AuthState{}, dErrors.New(dErrors.CodeNotFound, "no stored session")
	}
	return c.establish(ctx, &provider.LoginResult{User: *stored.User, Tokens: *stored.Tokens}, broadcast.SourceRestore)
}

func (c *Coordinator) establish(ctx context.Context, result *provider.LoginResult, source broadcast.Source) (broadcast.AuthState, error) {
	if err := c.deps.Store.StoreTokens(ctx, result.Tokens); err != nil {
		return broadcast.AuthState{}, dErrors.Wrap(err, dErrors.CodeInternal, "storing tokens failed")
	}

	c.mu.Lock()
	c.loginCancel()
	c.loginCtx, c.loginCancel = context.WithCancel(context.Background())
	timeout := c.cfg.SessionTimeout
	c.mu.Unlock()

	authenticated := true
	tokens := &broadcast.Tokens{
		AccessToken:  result.Tokens.AccessToken,
		IDToken:      result.Tokens.IDToken,
		RefreshToken: result.Tokens.RefreshToken,
	}
	if claims, err := token.DecodeClaims(result.Tokens.AccessToken); err == nil {
		tokens.ExpiresAt = claims.ExpiresAt()
	}
	state := c.broadcaster.UpdateAuthState(broadcast.Partial{
		IsAuthenticated: &authenticated,
		User: &broadcast.User{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
		},
		Tokens: tokens,
	}, source)

	c.sessions.CreateSession(state.SessionID, result.User.ID, timeout)
	c.logger.Info("session established", "user_id", result.User.ID, "source", string(source))
	return state, nil
}

// SignOut terminates the current authenticated period: cancels in-flight
// refresh and sync work, expires the session, clears stored tokens, and
// broadcasts the logout. Provider failures do not keep local state alive.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.loginCancel()
	c.loginCtx, c.loginCancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	c.scheduler.Invalidate()

	current := c.broadcaster.GetState()
	if current.Tokens != nil && current.Tokens.AccessToken != "" {
		if err := c.deps.Provider.SignOut(ctx, current.Tokens.AccessToken); err != nil {
			c.logger.Warn("provider sign-out failed, clearing local state anyway", "error", err)
		}
	}
	if current.SessionID != "" {
		c.sessions.ExpireSession(current.SessionID, "sign_out")
	}

	clearErr := c.deps.Store.ClearTokens(ctx)

	authenticated := false
	c.broadcaster.UpdateAuthState(broadcast.Partial{
		IsAuthenticated: &authenticated,
		ClearUser:       true,
		ClearTokens:     true,
	}, broadcast.SourceLogout)

	if clearErr != nil {
		return dErrors.Wrap(clearErr, dErrors.CodeInternal, "clearing tokens failed")
	}
	return nil
}

// RefreshNow triggers an immediate token refresh cycle, scoped to the
// current login so a sign-out cancels it.
func (c *Coordinator) RefreshNow(ctx context.Context) refresh.Result {
	scoped, release := c.scopedContext(ctx)
	defer release()
	return c.scheduler.RefreshNow(scoped)
}

// OnAppForeground mirrors the mobile lifecycle hook: an immediate refresh
// check plus an activity bump for the current session.
func (c *Coordinator) OnAppForeground(ctx context.Context) refresh.Result {
	if current := c.broadcaster.GetState(); current.SessionID != "" {
		c.sessions.UpdateActivity(current.SessionID, session.ActivityUserInteraction)
	}
	scoped, release := c.scopedContext(ctx)
	defer release()
	return c.scheduler.OnAppForeground(scoped)
}

// scopedContext ties an operation to both the caller's context and the
// current login, so a sign-out cancels work still in flight.
func (c *Coordinator) scopedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	loginCtx := c.loginCtx
	c.mu.Unlock()
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(loginCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// providerAuthChecker adapts the credential provider to the sync's
// user-refetch port.
type providerAuthChecker struct {
	provider provider.CredentialProvider
}

func (a providerAuthChecker) CheckStoredAuth(ctx context.Context) (*netsync.StoredUser, error) {
	stored, err := a.provider.CheckStoredAuth(ctx)
	if err != nil {
		return nil, err
	}
	out := &netsync.StoredUser{IsAuthenticated: stored.IsAuthenticated}
	if stored.User != nil {
		out.User = &broadcast.User{
			ID:    stored.User.ID,
			Email: stored.User.Email,
			Name:  stored.User.Name,
		}
	}
	return out, nil
}

// Broadcaster exposes the auth-state subscription surface.
func (c *Coordinator) Broadcaster() *broadcast.Broadcaster { return c.broadcaster }

// Sessions exposes session operations (activity, extension, renewal).
func (c *Coordinator) Sessions() *session.Manager { return c.sessions }

// Security exposes the security monitor.
func (c *Coordinator) Security() *security.Monitor { return c.security }

// Errors exposes the coordinated error handler registry.
func (c *Coordinator) Errors() *errhandler.Handler { return c.errors }

// Sync exposes the network resilience sync; nil without an observer.
func (c *Coordinator) Sync() *netsync.Sync { return c.sync }

// Status is the aggregate view served by the agent's status endpoint.
type Status struct {
	Running        bool
	AuthState      broadcast.AuthState
	RefreshStats   refresh.Stats
	ActiveSessions int
	ActiveErrors   int
	SecurityEvents int
}

func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	return Status{
		Running:        running,
		AuthState:      c.broadcaster.GetState(),
		RefreshStats:   c.scheduler.GetStats(),
		ActiveSessions: len(c.sessions.ActiveSessions()),
		ActiveErrors:   len(c.errors.GetActiveErrors()),
		SecurityEvents: c.security.GetSecurityMetrics().TotalEvents,
	}
}
