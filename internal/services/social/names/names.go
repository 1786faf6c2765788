// Package names implements the per-gamespace unique-name registry.
package names

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/halcyon-games/social/internal/platform/cache"
	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/profilesvc"
	"github.com/halcyon-games/social/internal/services/social/search"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

const searchCacheTTL = 20 * time.Second

// Engine manages unique name reservations.
type Engine struct {
	store       storage.NameStore
	profiles    profilesvc.Client
	searchCache *cache.TTL[[]Result]
}

// Result is one search hit, optionally decorated with a public profile.
type Result struct {
	Account int64           `json:"account"`
	Name    string          `json:"name"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// NewEngine builds a names engine over store.
func NewEngine(store storage.NameStore, profiles profilesvc.Client) *Engine {
	return &Engine{
		store:       store,
		profiles:    profiles,
		searchCache: cache.NewTTL[[]Result](256, searchCacheTTL),
	}
}

// AcquireName reserves name of kind for account, replacing any name of the
// same kind the account already holds.
func (e *Engine) AcquireName(ctx context.Context, gamespaceID, account int64, kind, name string) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "names engine is not configured")
	}
	err := e.store.AcquireName(ctx, storage.NameRecord{
		GamespaceID: gamespaceID,
		Account:     account,
		Kind:        kind,
		Name:        name,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNameTaken) {
			return apperrors.New(apperrors.CodeNameTaken, "name is busy")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "acquire name", err)
	}
	return nil
}

// ReleaseName frees the account's name of kind.
func (e *Engine) ReleaseName(ctx context.Context, gamespaceID, account int64, kind string) (bool, error) {
	if e == nil || e.store == nil {
		return false, apperrors.New(apperrors.CodeInternal, "names engine is not configured")
	}
	released, err := e.store.ReleaseName(ctx, gamespaceID, account, kind)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, "release name", err)
	}
	return released, nil
}

// CheckName returns the account holding name, or zero when it is free.
func (e *Engine) CheckName(ctx context.Context, gamespaceID int64, kind, name string) (int64, error) {
	if e == nil || e.store == nil {
		return 0, apperrors.New(apperrors.CodeInternal, "names engine is not configured")
	}
	account, err := e.store.CheckName(ctx, gamespaceID, kind, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, apperrors.Wrap(apperrors.CodeInternal, "check name", err)
	}
	return account, nil
}

// SearchNames finds reservations matching query, decorated with public
// profiles when profileFields is non-empty. Decorated results are cached
// briefly.
func (e *Engine) SearchNames(ctx context.Context, gamespaceID int64, kind, query string, profileFields []string) ([]Result, error) {
	if e == nil || e.store == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "names engine is not configured")
	}
	tokens := search.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	records, err := e.store.SearchNames(ctx, gamespaceID, kind, tokens, search.ResultLimit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "search names", err)
	}
	results := make([]Result, 0, len(records))
	accounts := make([]int64, 0, len(records))
	for _, record := range records {
		results = append(results, Result{Account: record.Account, Name: record.Name})
		accounts = append(accounts, record.Account)
	}

	if len(profileFields) == 0 || e.profiles == nil || len(accounts) == 0 {
		return results, nil
	}

	cacheKey := searchCacheKey(gamespaceID, kind, accounts, profileFields)
	if cached, ok := e.searchCache.Get(cacheKey); ok {
		return cached, nil
	}

	profiles, err := e.profiles.MassProfiles(ctx, gamespaceID, accounts, profileFields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "fetch name profiles", err)
	}
	for i := range results {
		results[i].Profile = profiles[results[i].Account]
	}

	e.searchCache.Set(cacheKey, results)
	return results, nil
}

// Cleanup drops every reservation the account holds.
func (e *Engine) Cleanup(ctx context.Context, gamespaceID, account int64) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "names engine is not configured")
	}
	if err := e.store.DeleteAccountNames(ctx, gamespaceID, account); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "cleanup names", err)
	}
	return nil
}

func searchCacheKey(gamespaceID int64, kind string, accounts []int64, fields []string) string {
	parts := make([]string, 0, len(accounts)+len(fields))
	for _, account := range accounts {
		parts = append(parts, strconv.FormatInt(account, 10))
	}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	parts = append(parts, sorted...)
	return cache.Key(strconv.FormatInt(gamespaceID, 10), kind, cache.HashParts(parts...))
}
