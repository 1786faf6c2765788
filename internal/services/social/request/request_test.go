package request

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/storage"
	"github.com/halcyon-games/social/internal/services/social/storage/sqlite"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "social.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(store)
}

func TestCreateIsIdempotentPerIdentity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	key, err := e.Create(ctx, 1, 10, storage.RequestAccount, 20, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key == "" {
		t.Fatal("expected non-empty key")
	}

	again, err := e.Create(ctx, 1, 10, storage.RequestAccount, 20, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if again != key {
		t.Fatalf("repeat key = %q, want original %q", again, key)
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(context.Background(), 1, 10, storage.RequestType("invalid"), 20, nil)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeBadInput {
		t.Fatalf("err = %v, want bad input", err)
	}
}

func TestAcquireIsSingleUse(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	key, err := e.Create(ctx, 1, 10, storage.RequestGroup, 77, json.RawMessage(`{"role":500}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	acquired, err := e.Acquire(ctx, 1, 10, key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acquired.Object != 77 || acquired.Type != storage.RequestGroup {
		t.Fatalf("acquired = %+v", acquired)
	}

	_, err = e.Acquire(ctx, 1, 10, key)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeNoSuchRequest {
		t.Fatalf("second acquire = %v, want no such request", err)
	}
}

func TestAcquireExpiredRequest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	past := time.Now().Add(-30 * 24 * time.Hour)
	e.now = func() time.Time { return past }
	key, err := e.Create(ctx, 1, 10, storage.RequestAccount, 20, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e.now = time.Now
	_, err = e.Acquire(ctx, 1, 10, key)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeNoSuchRequest {
		t.Fatalf("expired acquire = %v, want no such request", err)
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, 1, 10, storage.RequestAccount, 20, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	deleted, err := e.Delete(ctx, 1, 10, storage.RequestAccount, 20)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to remove the request")
	}
	deleted, err = e.Delete(ctx, 1, 10, storage.RequestAccount, 20)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("expected second delete to be a no-op")
	}

	key, err := e.Create(ctx, 1, 10, storage.RequestAccount, 30, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Cleanup(ctx, 1, 10); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := e.Acquire(ctx, 1, 10, key); err == nil {
		t.Fatal("expected cleanup to drop pending requests")
	}
}

func TestDeleteExpired(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	past := time.Now().Add(-30 * 24 * time.Hour)
	e.now = func() time.Time { return past }
	if _, err := e.Create(ctx, 1, 10, storage.RequestAccount, 20, nil); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	e.now = time.Now
	if _, err := e.Create(ctx, 1, 10, storage.RequestAccount, 30, nil); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	purged, err := e.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
}
