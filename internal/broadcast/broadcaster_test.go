package broadcast

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BroadcasterSuite struct {
	suite.Suite
	b *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.b = New(WithLogger(logger))
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) TestAddListenerReceivesInitialState() {
	var got []AuthState
	s.b.AddListener(Listener{ID: "l1", Callback: func(state AuthState) { got = append(got, state) }})
	s.Require().Len(got, 1)
	s.False(got[0].IsAuthenticated)
}

func (s *BroadcasterSuite) TestPriorityOrdering() {
	var order []string
	add := func(id string, priority int) {
		s.b.AddListener(Listener{ID: id, Priority: priority, Callback: func(AuthState) { order = append(order, id) }})
	}
	add("low", 1)
	add("high", 10)
	add("mid-a", 5)
	add("mid-b", 5)
	order = nil

	s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	s.Equal([]string{"high", "mid-a", "mid-b", "low"}, order)
}

func (s *BroadcasterSuite) TestAllListenersSeeIdenticalState() {
	states := map[string]AuthState{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		s.b.AddListener(Listener{ID: id, Callback: func(state AuthState) { states[id] = state }})
	}
	s.b.UpdateAuthState(Partial{
		IsAuthenticated: boolPtr(true),
		User:            &User{ID: "u1", Email: "u1@example.com", Name: "User One"},
	}, SourceLogin)

	s.Require().Len(states, 3)
	s.Equal(states["a"], states["b"])
	s.Equal(states["b"], states["c"])
	s.NotEmpty(states["a"].SessionID)
}

func (s *BroadcasterSuite) TestSessionIDStableExceptOnLogin() {
	first := s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	refreshed := s.b.UpdateAuthState(Partial{Tokens: &Tokens{AccessToken: "a2"}}, SourceRefresh)
	s.Equal(first.SessionID, refreshed.SessionID)

	relogin := s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	s.NotEqual(first.SessionID, relogin.SessionID)
}

func (s *BroadcasterSuite) TestDefensiveCopies() {
	var seen AuthState
	s.b.AddListener(Listener{ID: "l1", Callback: func(state AuthState) { seen = state }})
	s.b.UpdateAuthState(Partial{User: &User{ID: "u1", Name: "Original"}}, SourceLogin)

	seen.User.Name = "Mutated"
	s.Equal("Original", s.b.GetState().User.Name)
}

func (s *BroadcasterSuite) TestListenerPanicIsIsolated() {
	var after []string
	s.b.AddListener(Listener{ID: "boom", Priority: 10, Callback: func(AuthState) { panic("listener bug") }})
	s.b.AddListener(Listener{ID: "ok", Priority: 1, Callback: func(AuthState) { after = append(after, "ok") }})
	after = nil

	s.NotPanics(func() {
		s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	})
	s.Equal([]string{"ok"}, after)
}

func (s *BroadcasterSuite) TestRemoveListener() {
	s.b.AddListener(Listener{ID: "l1", Callback: func(AuthState) {}})
	s.True(s.b.RemoveListener("l1"))
	s.False(s.b.RemoveListener("l1"))
}

func (s *BroadcasterSuite) TestRemoveComponentListeners() {
	for _, id := range []string{"a", "b"} {
		s.b.AddListener(Listener{ID: id, Component: "profile-screen", Callback: func(AuthState) {}})
	}
	s.b.AddListener(Listener{ID: "c", Component: "nav", Callback: func(AuthState) {}})

	s.Equal(2, s.b.RemoveComponentListeners("profile-screen"))
	s.Equal(1, s.b.GetStats().ListenerCount)
}

func (s *BroadcasterSuite) TestForceBroadcastDoesNotMutate() {
	calls := 0
	s.b.AddListener(Listener{ID: "l1", Callback: func(AuthState) { calls++ }})
	before := s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	calls = 0

	s.b.ForceBroadcast()
	s.Equal(1, calls)
	s.Equal(before.SessionID, s.b.GetState().SessionID)
	s.Equal(before.LastUpdated, s.b.GetState().LastUpdated)
}

func (s *BroadcasterSuite) TestHistoryIsBounded() {
	s.b.UpdateConfig(ConfigPartial{HistorySize: intPtr(3)})
	for i := 0; i < 10; i++ {
		s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceRefresh)
	}
	history := s.b.History()
	s.Len(history, 3)
	s.Equal(3, s.b.GetStats().HistoryCount)
}

func (s *BroadcasterSuite) TestHistoryDisabled() {
	b := New(WithConfig(Config{HistoryEnabled: false}))
	b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	s.Empty(b.History())
}

func (s *BroadcasterSuite) TestLogoutClearsIdentity() {
	s.b.UpdateAuthState(Partial{
		IsAuthenticated: boolPtr(true),
		User:            &User{ID: "u1"},
		Tokens:          &Tokens{AccessToken: "a1", ExpiresAt: time.Now().Add(time.Hour)},
	}, SourceLogin)

	state := s.b.UpdateAuthState(Partial{
		IsAuthenticated: boolPtr(false),
		ClearUser:       true,
		ClearTokens:     true,
	}, SourceLogout)
	s.False(state.IsAuthenticated)
	s.Nil(state.User)
	s.Nil(state.Tokens)
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func (s *BroadcasterSuite) TestListenerCanRegisterListenerMidBroadcast() {
	var nested []AuthState
	s.b.AddListener(Listener{ID: "outer", Callback: func(state AuthState) {
		if state.Source != SourceLogin {
			return
		}
		s.b.AddListener(Listener{ID: "inner", Callback: func(inner AuthState) {
			nested = append(nested, inner)
		}})
	}})

	done := make(chan AuthState, 1)
	go func() {
		done <- s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceLogin)
	}()

	select {
	case state := <-done:
		s.True(state.IsAuthenticated)
	case <-time.After(time.Second):
		s.FailNow("UpdateAuthState never returned after a listener registered another listener")
	}

	s.Require().Len(nested, 1, "listener registered mid-broadcast still gets its initial snapshot")
	s.True(nested[0].IsAuthenticated)
}

func (s *BroadcasterSuite) TestFirstUpdateBootstrapsSessionID() {
	restored := s.b.UpdateAuthState(Partial{IsAuthenticated: boolPtr(true)}, SourceRestore)
	s.NotEmpty(restored.SessionID)

	refreshed := s.b.UpdateAuthState(Partial{Tokens: &Tokens{AccessToken: "a2"}}, SourceRefresh)
	s.Equal(restored.SessionID, refreshed.SessionID)
}
