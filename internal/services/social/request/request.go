// Package request implements the single-use pending-request ledger.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/platform/id"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// DefaultTTL is how long a pending request stays consumable.
const DefaultTTL = 7 * 24 * time.Hour

// Engine manages pending requests keyed by opaque single-use tokens.
type Engine struct {
	store  storage.RequestStore
	ttl    time.Duration
	now    func() time.Time
	newKey func() (string, error)
}

// NewEngine builds a request engine over store.
func NewEngine(store storage.RequestStore) *Engine {
	return &Engine{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		newKey: id.NewKey,
	}
}

// Create registers a pending request and returns its key. A request with the
// same (account, type, object) identity returns the already-issued key.
func (e *Engine) Create(ctx context.Context, gamespaceID, account int64, requestType storage.RequestType, object int64, payload json.RawMessage) (string, error) {
	if e == nil || e.store == nil {
		return "", apperrors.New(apperrors.CodeInternal, "request engine is not configured")
	}
	if requestType != storage.RequestAccount && requestType != storage.RequestGroup {
		return "", apperrors.New(apperrors.CodeBadInput, "unknown request type")
	}

	key, err := e.newKey()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "generate request key", err)
	}

	now := e.now().UTC()
	key, err = e.store.CreateRequest(ctx, storage.Request{
		GamespaceID: gamespaceID,
		Account:     account,
		Type:        requestType,
		Object:      object,
		Key:         key,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.ttl),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return "", apperrors.New(apperrors.CodeRequestExists, "request already pending")
		}
		return "", apperrors.Wrap(apperrors.CodeInternal, "create request", err)
	}
	return key, nil
}

// Acquire consumes the request matching key. At most one caller succeeds for
// any given key.
func (e *Engine) Acquire(ctx context.Context, gamespaceID, account int64, key string) (storage.Request, error) {
	if e == nil || e.store == nil {
		return storage.Request{}, apperrors.New(apperrors.CodeInternal, "request engine is not configured")
	}
	request, err := e.store.AcquireRequest(ctx, gamespaceID, account, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Request{}, apperrors.New(apperrors.CodeNoSuchRequest, "no such request")
		}
		return storage.Request{}, apperrors.Wrap(apperrors.CodeInternal, "acquire request", err)
	}
	if request.ExpiresAt.Before(e.now().UTC()) {
		return storage.Request{}, apperrors.New(apperrors.CodeNoSuchRequest, "no such request")
	}
	return request, nil
}

// Delete removes a request by its logical identity.
func (e *Engine) Delete(ctx context.Context, gamespaceID, account int64, requestType storage.RequestType, object int64) (bool, error) {
	if e == nil || e.store == nil {
		return false, apperrors.New(apperrors.CodeInternal, "request engine is not configured")
	}
	deleted, err := e.store.DeleteRequest(ctx, gamespaceID, account, requestType, object)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, "delete request", err)
	}
	return deleted, nil
}

// Cleanup drops every request the account created.
func (e *Engine) Cleanup(ctx context.Context, gamespaceID, account int64) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "request engine is not configured")
	}
	if err := e.store.DeleteAccountRequests(ctx, gamespaceID, account); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "cleanup requests", err)
	}
	return nil
}

// DeleteExpired purges requests past their deadline.
func (e *Engine) DeleteExpired(ctx context.Context) (int64, error) {
	if e == nil || e.store == nil {
		return 0, apperrors.New(apperrors.CodeInternal, "request engine is not configured")
	}
	purged, err := e.store.DeleteExpiredRequests(ctx, e.now().UTC())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "delete expired requests", err)
	}
	return purged, nil
}
