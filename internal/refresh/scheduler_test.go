package refresh

//go:generate mockgen -source=scheduler.go -destination=mocks/mocks.go -package=mocks TokenRefresher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"authcore/internal/broadcast"
	"authcore/internal/errclass"
	"authcore/internal/refresh/mocks"
	"authcore/internal/retry"
	"authcore/internal/sentinel"
	"authcore/internal/tokenstore"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	updates []broadcast.Source
	last    broadcast.Partial
}

func (f *fakeBroadcaster) UpdateAuthState(partial broadcast.Partial, source broadcast.Source) broadcast.AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, source)
	f.last = partial
	return broadcast.AuthState{}
}

type SchedulerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	refresher   *mocks.MockTokenRefresher
	store       *tokenstore.InMemoryStore
	broadcaster *fakeBroadcaster
	scheduler   *Scheduler
	results     []Result
	resultsMu   sync.Mutex
}

func (s *SchedulerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.refresher = mocks.NewMockTokenRefresher(s.ctrl)
	s.store = tokenstore.NewInMemoryStore()
	s.broadcaster = &fakeBroadcaster{}
	s.results = nil
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	executor := retry.New(retry.WithConfig(retry.Config{BaseDelay: time.Millisecond, Multiplier: 2}))
	classifier := errclass.New()
	var err error
	s.scheduler, err = NewScheduler(s.store, s.refresher, executor,
		WithLogger(logger),
		WithBroadcaster(s.broadcaster),
		WithClassifier(classifier.Classify),
		WithConfig(Config{Interval: time.Minute, Threshold: 5 * time.Minute, MaxRetries: 2}),
	)
	s.Require().NoError(err)
	s.scheduler.AddListener("test", func(result Result) {
		s.resultsMu.Lock()
		defer s.resultsMu.Unlock()
		s.results = append(s.results, result)
	})
}

func (s *SchedulerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) accessToken(exp time.Time) string {
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp), Subject: "u1"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	s.Require().NoError(err)
	return raw
}

func (s *SchedulerSuite) storeTokens(exp time.Time) {
	s.Require().NoError(s.store.StoreTokens(context.Background(), tokenstore.Tokens{
		AccessToken:  s.accessToken(exp),
		RefreshToken: "r1",
	}))
}

func (s *SchedulerSuite) TestRefreshesTokenNearExpiry() {
	s.storeTokens(time.Now().Add(2 * time.Minute))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").Return(fresh, nil)

	result := s.scheduler.RefreshNow(context.Background())
	s.True(result.Success)
	s.True(result.Refreshed)
	s.Equal(fresh, result.NewTokens)

	stored, err := s.store.RetrieveTokens(context.Background())
	s.Require().NoError(err)
	s.Equal("r2", stored.RefreshToken)

	stats := s.scheduler.GetStats()
	s.Equal(1, stats.RefreshCount)
	s.Zero(stats.ErrorCount)
	s.Equal(StateIdle, stats.State)

	s.Require().Len(s.results, 1)
	s.True(s.results[0].Refreshed)
	s.Equal([]broadcast.Source{broadcast.SourceRefresh}, s.broadcaster.updates)
}

func (s *SchedulerSuite) TestSkipsFreshToken() {
	s.storeTokens(time.Now().Add(time.Hour))
	result := s.scheduler.RefreshNow(context.Background())
	s.True(result.Success)
	s.False(result.Refreshed)
	s.Empty(s.results)
}

func (s *SchedulerSuite) TestSkipsWhenNoStoredTokens() {
	result := s.scheduler.RefreshNow(context.Background())
	s.True(result.Success)
	s.False(result.Refreshed)
}

func (s *SchedulerSuite) TestMalformedAccessTokenForcesRefresh() {
	s.Require().NoError(s.store.StoreTokens(context.Background(), tokenstore.Tokens{
		AccessToken:  "garbage",
		RefreshToken: "r1",
	}))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").Return(fresh, nil)

	result := s.scheduler.RefreshNow(context.Background())
	s.True(result.Refreshed)
}

func (s *SchedulerSuite) TestExhaustedRetriesLeaveOldTokens() {
	s.storeTokens(time.Now().Add(time.Minute))
	failure := &providerError{code: "ServiceUnavailable"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").Return(nil, failure).Times(3)

	result := s.scheduler.RefreshNow(context.Background())
	s.False(result.Success)
	s.False(result.Refreshed)

	stored, err := s.store.RetrieveTokens(context.Background())
	s.Require().NoError(err)
	s.Equal("r1", stored.RefreshToken, "failed refresh must not overwrite stored tokens")

	stats := s.scheduler.GetStats()
	s.Equal(1, stats.ErrorCount)
	s.NotEmpty(stats.LastError)
	s.Equal(StateBackoff, stats.State)
	s.Empty(s.broadcaster.updates)
}

func (s *SchedulerSuite) TestNonRetryableFailureStopsImmediately() {
	s.storeTokens(time.Now().Add(time.Minute))
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").Return(nil, &providerError{code: "NotAuthorizedException"}).Times(1)

	result := s.scheduler.RefreshNow(context.Background())
	s.False(result.Success)
}

func (s *SchedulerSuite) TestResultAfterSignOutIsDiscarded() {
	s.storeTokens(time.Now().Add(time.Minute))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").DoAndReturn(
		func(ctx context.Context, _ string) (*tokenstore.Tokens, error) {
			// Sign-out races the in-flight refresh.
			s.Require().NoError(s.store.ClearTokens(ctx))
			return fresh, nil
		})

	result := s.scheduler.RefreshNow(context.Background())
	s.False(result.Success)
	s.ErrorIs(result.Err, sentinel.ErrSignedOut)

	has, err := s.store.HasStoredTokens(context.Background())
	s.Require().NoError(err)
	s.False(has, "discarded refresh must not re-authenticate a signed-out user")
}

func (s *SchedulerSuite) TestConcurrentCallsCoalesce() {
	s.storeTokens(time.Now().Add(time.Minute))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").DoAndReturn(
		func(context.Context, string) (*tokenstore.Tokens, error) {
			time.Sleep(50 * time.Millisecond)
			return fresh, nil
		}).Times(1)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.scheduler.RefreshNow(context.Background())
		}(i)
	}
	wg.Wait()
	s.True(results[0].Refreshed)
	s.True(results[1].Refreshed)
}

func (s *SchedulerSuite) TestInvalidatedRefreshIsDiscarded() {
	s.storeTokens(time.Now().Add(time.Minute))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").DoAndReturn(
		func(ctx context.Context, _ string) (*tokenstore.Tokens, error) {
			// Sign-out lands mid round trip: invalidate first, then clear,
			// mirroring the coordinator's sign-out order.
			s.scheduler.Invalidate()
			s.Require().NoError(s.store.ClearTokens(ctx))
			return fresh, nil
		})

	result := s.scheduler.RefreshNow(context.Background())
	s.False(result.Success)
	s.ErrorIs(result.Err, sentinel.ErrSignedOut)

	has, err := s.store.HasStoredTokens(context.Background())
	s.Require().NoError(err)
	s.False(has, "in-flight refresh must not re-persist tokens after sign-out")
	s.Empty(s.broadcaster.updates)
}

func (s *SchedulerSuite) TestInvalidateDiscardsEvenWithTokensStillStored() {
	s.storeTokens(time.Now().Add(time.Minute))
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").DoAndReturn(
		func(context.Context, string) (*tokenstore.Tokens, error) {
			s.scheduler.Invalidate()
			return fresh, nil
		})

	result := s.scheduler.RefreshNow(context.Background())
	s.False(result.Success)
	s.ErrorIs(result.Err, sentinel.ErrSignedOut)

	stored, err := s.store.RetrieveTokens(context.Background())
	s.Require().NoError(err)
	s.Equal("r1", stored.RefreshToken, "invalidated cycle must leave stored tokens untouched")
	s.Empty(s.broadcaster.updates)
}

func (s *SchedulerSuite) TestTickerCyclesRunUnderScope() {
	s.storeTokens(time.Now().Add(time.Minute))

	type scopeKey struct{}
	refreshed := make(chan struct{})
	fresh := &tokenstore.Tokens{AccessToken: s.accessToken(time.Now().Add(time.Hour)), RefreshToken: "r2"}
	s.refresher.EXPECT().RefreshToken(gomock.Any(), "r1").DoAndReturn(
		func(ctx context.Context, _ string) (*tokenstore.Tokens, error) {
			s.Equal("login-scoped", ctx.Value(scopeKey{}))
			close(refreshed)
			return fresh, nil
		})

	scheduler, err := NewScheduler(s.store, s.refresher, retry.New(),
		WithConfig(Config{Interval: 10 * time.Millisecond, Threshold: 5 * time.Minute, MaxRetries: 2}),
		WithScope(func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithCancel(context.WithValue(ctx, scopeKey{}, "login-scoped"))
		}),
	)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = scheduler.Start(ctx) }()

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		s.FailNow("ticker-driven cycle never ran under the scope")
	}
}

type providerError struct{ code string }

func (e *providerError) Error() string     { return e.code }
func (e *providerError) ErrorCode() string { return e.code }
