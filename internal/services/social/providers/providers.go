// Package providers implements the external social network integrations
// behind the friends aggregator. Each provider wraps one credential type and
// exposes a uniform capability set over that network's HTTP API.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// Auth is the material handed over by the platform login flow when a player
// links an external account.
type Auth struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// Friend is one entry of an external friend list.
type Friend struct {
	Credential string
	Username   string
	Profile    json.RawMessage
}

// Tokens is the slice of the token engine the providers need.
type Tokens interface {
	GetToken(ctx context.Context, gamespaceID, account int64, credential string) (storage.Token, error)
	UpdateToken(ctx context.Context, gamespaceID int64, credential, username, accessToken string, expiresAt time.Time, payload json.RawMessage) (int64, error)
}

// Provider is one external social network.
type Provider interface {
	// Credential names the credential type this provider serves.
	Credential() string
	// HasFriendList reports whether ListFriends is meaningful here.
	HasFriendList() bool
	// ListFriends fetches the external friend list of the linked account.
	ListFriends(ctx context.Context, gamespaceID, account int64) ([]Friend, error)
	// GetSocialProfile fetches the external public profile of username.
	GetSocialProfile(ctx context.Context, gamespaceID int64, username string, account int64) (json.RawMessage, error)
	// ImportSocial stores the freshly authorized token and returns the
	// attached platform account, zero if the credential is unattached.
	ImportSocial(ctx context.Context, gamespaceID int64, username string, auth Auth) (int64, error)
}

// Registry resolves credential types to providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by credential type.
func NewRegistry(providers ...Provider) *Registry {
	indexed := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		indexed[provider.Credential()] = provider
	}
	return &Registry{providers: indexed}
}

// Provider returns the provider serving credential.
func (r *Registry) Provider(credential string) (Provider, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "provider registry is not configured")
	}
	provider, ok := r.providers[credential]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNoSuchCredential, fmt.Sprintf("no provider for credential %q", credential))
	}
	return provider, nil
}

// All returns every registered provider.
func (r *Registry) All() []Provider {
	if r == nil {
		return nil
	}
	result := make([]Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		result = append(result, provider)
	}
	return result
}

// authRequired is returned when the stored token is gone or refused by the
// network and the player has to re-authorize.
func authRequired(credential, username string) error {
	return apperrors.WithMetadata(apperrors.CodeAuthRequired, "social authentication required", map[string]string{
		"credential": credential,
		"username":   username,
	})
}

// importData computes the token deadline and stores the credential record.
func importData(ctx context.Context, tokens Tokens, gamespaceID int64, credential, username, accessToken string, expiresIn int64, payload json.RawMessage) (int64, error) {
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	return tokens.UpdateToken(ctx, gamespaceID, credential, username, accessToken, expiresAt, payload)
}

// apiError is a non-2xx response from a provider API.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider api status %d: %s", e.Status, e.Body)
}

// apiClient is a minimal JSON HTTP client for one provider endpoint.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) apiClient {
	return apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c apiClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call provider api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func (c apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	return c.do(req, out)
}

func (c apiClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}
