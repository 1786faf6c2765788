// Package login consumes the sibling login service for per-provider keys.
package login

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-games/social/internal/platform/cache"
)

const keyCacheTTL = 300 * time.Second

// KeySource resolves named per-gamespace private keys.
type KeySource interface {
	// GetKey returns the key material stored under name.
	GetKey(ctx context.Context, gamespaceID int64, name string) (string, error)
}

// Client fetches keys from the login service, caching each for five minutes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       *cache.TTL[string]
}

var _ KeySource = (*Client)(nil)

// NewClient builds a login service client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       cache.NewTTL[string](128, keyCacheTTL),
	}
}

// GetKey implements KeySource.
func (c *Client) GetKey(ctx context.Context, gamespaceID int64, name string) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", fmt.Errorf("login client is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("key name is required")
	}

	cacheKey := cache.Key(strconv.FormatInt(gamespaceID, 10), name)
	if key, ok := c.keys.Get(cacheKey); ok {
		return key, nil
	}

	query := url.Values{}
	query.Set("gamespace", strconv.FormatInt(gamespaceID, 10))
	query.Set("key_name", name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/key?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build key request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call login service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("login service key %q: status %d", name, resp.StatusCode)
	}

	var decoded struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode key response: %w", err)
	}
	if decoded.Key == "" {
		return "", fmt.Errorf("login service key %q is empty", name)
	}

	c.keys.Set(cacheKey, decoded.Key)
	return decoded.Key, nil
}
