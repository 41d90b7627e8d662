package tokenstore

import "context"

// Tokens is the credential triple kept in secure storage.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store is the opaque secure token storage collaborator. It is the only
// durable shared mutable state in the lifecycle core; each operation is
// atomic from the caller's view.
// Error contract: RetrieveTokens returns sentinel.ErrNoTokens when nothing
// is stored.
type Store interface {
	StoreTokens(ctx context.Context, tokens Tokens) error
	RetrieveTokens(ctx context.Context) (*Tokens, error)
	ClearTokens(ctx context.Context) error
	HasStoredTokens(ctx context.Context) (bool, error)
}
