// Package friends aggregates external friend lists and internal connections
// into one profile-decorated view.
package friends

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyon-games/social/internal/platform/cache"
	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/profilesvc"
	"github.com/halcyon-games/social/internal/services/social/providers"
	"github.com/halcyon-games/social/internal/services/social/token"
)

const resultCacheTTL = 300 * time.Second

// Connections is the slice of the connection engine the aggregator needs.
type Connections interface {
	ListConnections(ctx context.Context, gamespaceID, account int64) ([]int64, error)
}

// Friend is one aggregated entry. Account is zero for externals with no
// platform account; Social maps credential type to that network's payload.
type Friend struct {
	Account int64
	Profile json.RawMessage
	Social  map[string]json.RawMessage
}

// Engine fans out to every linked provider, unions the results with the
// internal connection list and decorates them with public profiles.
type Engine struct {
	tokens      *token.Engine
	registry    *providers.Registry
	connections Connections
	profiles    profilesvc.Client
	cache       *cache.TTL[[]Friend]
}

// NewEngine builds a friends aggregator.
func NewEngine(tokens *token.Engine, registry *providers.Registry, connections Connections, profiles profilesvc.Client) *Engine {
	return &Engine{
		tokens:      tokens,
		registry:    registry,
		connections: connections,
		profiles:    profiles,
		cache:       cache.NewTTL[[]Friend](1024, resultCacheTTL),
	}
}

// ListFriends aggregates the friends of account across every linked external
// network plus its internal connections. Provider API failures drop that
// network's entries; a provider demanding re-authorization aborts the whole
// call so the caller can surface it.
func (e *Engine) ListFriends(ctx context.Context, gamespaceID, account int64, profileFields []string) ([]Friend, error) {
	if e == nil || e.tokens == nil || e.registry == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "friends engine is not configured")
	}

	cacheKey := e.cacheKey(gamespaceID, account, profileFields)
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached, nil
	}

	external, err := e.listExternal(ctx, gamespaceID, account)
	if err != nil {
		return nil, err
	}

	// Map externals to platform accounts where a token is attached.
	merged := make([]string, 0, len(external))
	for _, friend := range external {
		merged = append(merged, token.MergeCredential(friend.Credential, friend.Username))
	}
	attached, err := e.tokens.LookupAccounts(ctx, gamespaceID, merged)
	if err != nil {
		return nil, err
	}

	byAccount := map[int64]*Friend{}
	var unattached []Friend
	for _, friend := range external {
		handle := token.MergeCredential(friend.Credential, friend.Username)
		account, ok := attached[handle]
		if !ok {
			unattached = append(unattached, Friend{
				Social: map[string]json.RawMessage{friend.Credential: friend.Profile},
			})
			continue
		}
		entry := byAccount[account]
		if entry == nil {
			entry = &Friend{Account: account, Social: map[string]json.RawMessage{}}
			byAccount[account] = entry
		}
		entry.Social[friend.Credential] = friend.Profile
	}

	// Union with internal connections.
	if e.connections != nil {
		connected, err := e.connections.ListConnections(ctx, gamespaceID, account)
		if err != nil {
			return nil, err
		}
		for _, other := range connected {
			if byAccount[other] == nil {
				byAccount[other] = &Friend{Account: other}
			}
		}
	}

	if err := e.decorate(ctx, gamespaceID, byAccount, profileFields); err != nil {
		return nil, err
	}

	accounts := make([]int64, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	result := make([]Friend, 0, len(byAccount)+len(unattached))
	for _, account := range accounts {
		result = append(result, *byAccount[account])
	}
	result = append(result, unattached...)

	e.cache.Set(cacheKey, result)
	return result, nil
}

// listExternal fans out ListFriends to every linked provider in parallel.
func (e *Engine) listExternal(ctx context.Context, gamespaceID, account int64) ([]providers.Friend, error) {
	linked, err := e.tokens.ListTokens(ctx, gamespaceID, account)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		external []providers.Friend
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, stored := range linked {
		provider, err := e.registry.Provider(stored.Credential)
		if err != nil || !provider.HasFriendList() {
			continue
		}
		group.Go(func() error {
			friends, err := provider.ListFriends(groupCtx, gamespaceID, account)
			if err != nil {
				var appErr *apperrors.Error
				if errors.As(err, &appErr) && appErr.Code == apperrors.CodeAuthRequired {
					return err
				}
				log.Printf("list %s friends of %d: %v", provider.Credential(), account, err)
				return nil
			}
			mu.Lock()
			external = append(external, friends...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return external, nil
}

func (e *Engine) decorate(ctx context.Context, gamespaceID int64, byAccount map[int64]*Friend, fields []string) error {
	if e.profiles == nil || len(byAccount) == 0 {
		return nil
	}
	accounts := make([]int64, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	profiles, err := e.profiles.MassProfiles(ctx, gamespaceID, accounts, fields)
	if err != nil {
		return err
	}
	for account, profile := range profiles {
		if entry := byAccount[account]; entry != nil {
			entry.Profile = profile
		}
	}
	return nil
}

func (e *Engine) cacheKey(gamespaceID, account int64, fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return cache.Key(
		strconv.FormatInt(gamespaceID, 10),
		strconv.FormatInt(account, 10),
		cache.HashParts(sorted...),
	)
}
