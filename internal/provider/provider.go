package provider

import (
	"context"
	"fmt"

	"authcore/internal/tokenstore"
)

// User is the identity returned by the credential provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginResult pairs the authenticated user with their fresh tokens.
type LoginResult struct {
	User   User              `json:"user"`
	Tokens tokenstore.Tokens `json:"tokens"`
}

// StoredAuth is the provider's view of a previously persisted session.
type StoredAuth struct {
	IsAuthenticated bool               `json:"isAuthenticated"`
	User            *User              `json:"user,omitempty"`
	Tokens          *tokenstore.Tokens `json:"tokens,omitempty"`
}

// CredentialProvider is the Cognito-style backend collaborator. Every call
// takes a context and returns typed failures (*Error) rather than raising.
type CredentialProvider interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*tokenstore.Tokens, error)
	SignOut(ctx context.Context, accessToken string) error
	CheckStoredAuth(ctx context.Context) (*StoredAuth, error)
}

// FederatedProvider is the Google-style federated sign-in collaborator.
type FederatedProvider interface {
	IsAvailable(ctx context.Context) bool
	SignIn(ctx context.Context) (*LoginResult, error)
}

// Error is a typed provider failure carrying the upstream exception code
// and HTTP status, both consumed by the classifier.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// ErrorCode reports the provider exception name.
func (e *Error) ErrorCode() string { return e.Code }

// StatusCode reports the HTTP status, zero when unknown.
func (e *Error) StatusCode() int { return e.Status }
