// Package token manages external credential links for accounts.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// MergeCredential builds the canonical credential:username handle.
func MergeCredential(credential, username string) string {
	return credential + ":" + username
}

// SplitCredential splits a merged credential handle.
func SplitCredential(merged string) (credential, username string, ok bool) {
	return strings.Cut(merged, ":")
}

// Engine manages the credential token store.
type Engine struct {
	store storage.TokenStore
}

// NewEngine builds a token engine over store.
func NewEngine(store storage.TokenStore) *Engine {
	return &Engine{store: store}
}

// Attach binds a previously imported credential to account.
func (e *Engine) Attach(ctx context.Context, gamespaceID int64, credential, username string, account int64) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	err := e.store.AttachToken(ctx, gamespaceID, credential, username, account)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.WithMetadata(apperrors.CodeNoSuchCredential, "no such credential", map[string]string{
				"credential": credential,
				"username":   username,
			})
		}
		return apperrors.Wrap(apperrors.CodeInternal, "attach token", err)
	}
	return nil
}

// GetToken returns the account's token for one credential kind.
func (e *Engine) GetToken(ctx context.Context, gamespaceID, account int64, credential string) (storage.Token, error) {
	if e == nil || e.store == nil {
		return storage.Token{}, apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	stored, err := e.store.GetToken(ctx, gamespaceID, account, credential)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Token{}, apperrors.New(apperrors.CodeNoSuchToken, "no such token")
		}
		return storage.Token{}, apperrors.Wrap(apperrors.CodeInternal, "get token", err)
	}
	return stored, nil
}

// GetCredential returns a token by external identity.
func (e *Engine) GetCredential(ctx context.Context, gamespaceID int64, credential, username string) (storage.Token, error) {
	if e == nil || e.store == nil {
		return storage.Token{}, apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	stored, err := e.store.GetCredential(ctx, gamespaceID, credential, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Token{}, apperrors.New(apperrors.CodeNoSuchCredential, "no such credential")
		}
		return storage.Token{}, apperrors.Wrap(apperrors.CodeInternal, "get credential", err)
	}
	return stored, nil
}

// ListTokens returns every credential attached to account.
func (e *Engine) ListTokens(ctx context.Context, gamespaceID, account int64) ([]storage.Token, error) {
	if e == nil || e.store == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	tokens, err := e.store.ListTokens(ctx, gamespaceID, account)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list tokens", err)
	}
	return tokens, nil
}

// UpdateToken inserts or refreshes a credential record, merging payload over
// the stored one, and returns the attached account (zero when unattached).
func (e *Engine) UpdateToken(ctx context.Context, gamespaceID int64, credential, username, accessToken string, expiresAt time.Time, payload json.RawMessage) (int64, error) {
	if e == nil || e.store == nil {
		return 0, apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	if strings.TrimSpace(credential) == "" || strings.TrimSpace(username) == "" {
		return 0, apperrors.New(apperrors.CodeBadInput, "credential and username are required")
	}
	attached, err := e.store.UpsertToken(ctx, storage.Token{
		GamespaceID: gamespaceID,
		Credential:  credential,
		Username:    username,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Payload:     payload,
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "update token", err)
	}
	return attached, nil
}

// LookupAccounts maps merged credential handles to attached accounts.
func (e *Engine) LookupAccounts(ctx context.Context, gamespaceID int64, merged []string) (map[string]int64, error) {
	if e == nil || e.store == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "token engine is not configured")
	}
	if len(merged) == 0 {
		return map[string]int64{}, nil
	}
	accounts, err := e.store.LookupAccounts(ctx, gamespaceID, merged)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "lookup accounts", err)
	}
	return accounts, nil
}
