package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"authcore/internal/tokenstore"
	dErrors "authcore/pkg/domain-errors"
)

// HTTPClient talks to a Cognito-style credential endpoint over JSON. Each
// call carries an execution timeout; expiry surfaces as a timeout-coded
// failure so it flows through the normal classification path.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

type HTTPOption func(*HTTPClient)

func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

func WithHTTPDoer(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	err := c.post(ctx, "/auth/login", map[string]string{"email": email, "password": password}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (*tokenstore.Tokens, error) {
	var result struct {
		Tokens tokenstore.Tokens `json:"tokens"`
	}
	err := c.post(ctx, "/auth/refresh", map[string]string{"refreshToken": refreshToken}, &result)
	if err != nil {
		return nil, err
	}
	return &result.Tokens, nil
}

func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/auth/signout", map[string]string{"accessToken": accessToken}, nil)
}

func (c *HTTPClient) CheckStoredAuth(ctx context.Context) (*StoredAuth, error) {
	var result StoredAuth
	if err := c.post(ctx, "/auth/session", map[string]string{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfiguration, "could not build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "provider call timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeConnectivity, "provider unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeService, "could not read response")
	}

	if resp.StatusCode >= 400 {
		provErr := &Error{Status: resp.StatusCode}
		var envelope struct {
			Error *Error `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &envelope); jsonErr == nil && envelope.Error != nil {
			provErr.Code = envelope.Error.Code
			provErr.Message = envelope.Error.Message
		}
		if provErr.Code == "" {
			provErr.Code = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("provider call failed",
			"path", path,
			"status", resp.StatusCode,
			"code", provErr.Code,
		)
		return provErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeService, fmt.Sprintf("malformed response from %s", path))
	}
	return nil
}
