// Package profilesvc consumes the sibling profile service.
package profilesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-games/social/internal/platform/cache"
)

// Client fetches public account profiles in bulk.
type Client interface {
	// MassProfiles returns public profiles for accounts, restricted to the
	// requested fields. Unknown accounts are absent from the result.
	MassProfiles(ctx context.Context, gamespaceID int64, accounts []int64, fields []string) (map[int64]json.RawMessage, error)
}

// HTTPClient talks JSON over HTTP to the profile service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a profile service client for baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MassProfiles implements Client.
func (c *HTTPClient) MassProfiles(ctx context.Context, gamespaceID int64, accounts []int64, fields []string) (map[int64]json.RawMessage, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("profile client is not configured")
	}
	if len(accounts) == 0 {
		return map[int64]json.RawMessage{}, nil
	}

	body, err := json.Marshal(map[string]any{
		"gamespace":      gamespaceID,
		"accounts":       accounts,
		"action":         "get_public",
		"profile_fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("encode profiles request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mass_profiles", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build profiles request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call profile service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("profile service: status %d", resp.StatusCode)
	}

	var decoded struct {
		Profiles map[string]json.RawMessage `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode profiles response: %w", err)
	}

	profiles := make(map[int64]json.RawMessage, len(decoded.Profiles))
	for key, value := range decoded.Profiles {
		account, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		profiles[account] = value
	}
	return profiles, nil
}

// CachedClient wraps a Client with a short TTL cache keyed by the account set
// and requested fields.
type CachedClient struct {
	inner Client
	cache *cache.TTL[map[int64]json.RawMessage]
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient caches mass-profile responses for ttl.
func NewCachedClient(inner Client, size int, ttl time.Duration) *CachedClient {
	return &CachedClient{
		inner: inner,
		cache: cache.NewTTL[map[int64]json.RawMessage](size, ttl),
	}
}

// MassProfiles implements Client.
func (c *CachedClient) MassProfiles(ctx context.Context, gamespaceID int64, accounts []int64, fields []string) (map[int64]json.RawMessage, error) {
	if c == nil || c.inner == nil {
		return nil, fmt.Errorf("profile client is not configured")
	}
	key := cacheKey(gamespaceID, accounts, fields)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}
	profiles, err := c.inner.MassProfiles(ctx, gamespaceID, accounts, fields)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, profiles)
	return profiles, nil
}

func cacheKey(gamespaceID int64, accounts []int64, fields []string) string {
	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, strconv.FormatInt(account, 10))
	}
	sort.Strings(ids)
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	digest := cache.HashParts(append(ids, sorted...)...)
	return cache.Key(strconv.FormatInt(gamespaceID, 10), digest)
}
