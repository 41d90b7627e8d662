package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "authcore/pkg/domain-errors"
)

type HTTPClientSuite struct {
	suite.Suite
}

func TestHTTPClientSuite(t *testing.T) {
	suite.Run(t, new(HTTPClientSuite))
}

func (s *HTTPClientSuite) TestLoginSuccess() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/auth/login", r.URL.Path)
		var body map[string]string
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("u1@example.com", body["email"])
		json.NewEncoder(w).Encode(LoginResult{User: User{ID: "u1", Email: "u1@example.com"}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	result, err := client.Login(context.Background(), "u1@example.com", "pw")
	s.Require().NoError(err)
	s.Equal("u1", result.User.ID)
}

func (s *HTTPClientSuite) TestProviderErrorEnvelope() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "NotAuthorizedException", "message": "bad credentials"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.Login(context.Background(), "u1@example.com", "wrong")
	s.Require().Error(err)

	var provErr *Error
	s.Require().ErrorAs(err, &provErr)
	s.Equal("NotAuthorizedException", provErr.ErrorCode())
	s.Equal(http.StatusUnauthorized, provErr.StatusCode())
}

func (s *HTTPClientSuite) TestTimeoutClassifiesAsTimeout() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithHTTPTimeout(20*time.Millisecond))
	_, err := client.RefreshToken(context.Background(), "r1")
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *HTTPClientSuite) TestUnreachableHostIsConnectivity() {
	client := NewHTTPClient("http://127.0.0.1:1", WithHTTPTimeout(200*time.Millisecond))
	err := client.SignOut(context.Background(), "a1")
	s.True(dErrors.HasCode(err, dErrors.CodeConnectivity))
}
