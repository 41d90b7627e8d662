package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"authcore/internal/coordinator"
	"authcore/internal/metrics"
	"authcore/internal/provider"
	"authcore/internal/tokenstore"
)

type stubProvider struct {
	loginErr error
	result   *provider.LoginResult
}

func (p *stubProvider) Login(context.Context, string, string) (*provider.LoginResult, error) {
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	return p.result, nil
}

func (p *stubProvider) RefreshToken(context.Context, string) (*tokenstore.Tokens, error) {
	return nil, errors.New("not implemented")
}

func (p *stubProvider) SignOut(context.Context, string) error { return nil }

func (p *stubProvider) CheckStoredAuth(context.Context) (*provider.StoredAuth, error) {
	return &provider.StoredAuth{}, nil
}

type HandlerSuite struct {
	suite.Suite
	server   *httptest.Server
	provider *stubProvider
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)), Subject: "u1"}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	s.Require().NoError(err)

	s.provider = &stubProvider{
		result: &provider.LoginResult{
			User:   provider.User{ID: "u1", Email: "user@example.com"},
			Tokens: tokenstore.Tokens{AccessToken: access, RefreshToken: "refresh-secret"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()

	coord, err := coordinator.New(coordinator.Deps{
		Provider: s.provider,
		Store:    tokenstore.NewInMemoryStore(),
	},
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(metrics.New(registry)),
	)
	s.Require().NoError(err)

	s.server = httptest.NewServer(NewRouter(NewHandler(coord, logger), registry, logger))
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) post(path, body string) *http.Response {
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) get(path string) *http.Response {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) TestHealthz() {
	resp := s.get("/healthz")
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerSuite) TestLoginValidation() {
	resp := s.post("/auth/login", `{"email":""}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestLoginSuccess() {
	resp := s.post("/auth/login", `{"email":"user@example.com","password":"pw"}`)
	s.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), `"is_authenticated":true`)
	s.Contains(string(body), `"session_id"`)
	s.NotContains(string(body), "refresh-secret") // no token material leaves the agent
}

func (s *HandlerSuite) TestLoginFailure() {
	s.provider.loginErr = errors.New("not authorized")
	resp := s.post("/auth/login", `{"email":"user@example.com","password":"bad"}`)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *HandlerSuite) TestRestoreWithoutSession() {
	resp := s.post("/auth/restore", `{}`)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestStatusReflectsLogin() {
	s.post("/auth/login", `{"email":"user@example.com","password":"pw"}`)

	resp := s.get("/status")
	s.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), `"is_authenticated":true`)
	s.Contains(string(body), `"active_sessions":1`)
}

func (s *HandlerSuite) TestSessionEndpoints() {
	resp := s.post("/auth/login", `{"email":"user@example.com","password":"pw"}`)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	sessionID := extractField(string(body), "session_id")
	s.Require().NotEmpty(sessionID)

	s.Equal(http.StatusOK, s.post("/session/"+sessionID+"/activity", `{}`).StatusCode)
	s.Equal(http.StatusOK, s.post("/session/"+sessionID+"/extend", `{}`).StatusCode)
	s.Equal(http.StatusOK, s.post("/session/"+sessionID+"/renew", `{}`).StatusCode)
	s.Equal(http.StatusNotFound, s.post("/session/unknown/renew", `{}`).StatusCode)
}

func (s *HandlerSuite) TestSecurityEvents() {
	s.provider.loginErr = errors.New("not authorized")
	s.post("/auth/login", `{"email":"user@example.com","password":"bad"}`)

	resp := s.get("/security/events?type=failed_login")
	s.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), `"failed_login"`)
}

func (s *HandlerSuite) TestMetricsEndpoint() {
	resp := s.get("/metrics")
	s.Equal(http.StatusOK, resp.StatusCode)
}

func extractField(body, field string) string {
	marker := `"` + field + `":"`
	start := strings.Index(body, marker)
	if start < 0 {
		return ""
	}
	rest := body[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
