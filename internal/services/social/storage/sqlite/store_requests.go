package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcyon-games/social/internal/services/social/storage"
)

const requestColumns = "gamespace_id, account_id, request_type, request_object, request_key, request_payload, created_at, expires_at"

func scanRequest(scanner interface{ Scan(...any) error }) (storage.Request, error) {
	var request storage.Request
	var requestType, payload string
	var createdAt, expiresAt int64
	err := scanner.Scan(
		&request.GamespaceID,
		&request.Account,
		&requestType,
		&request.Object,
		&request.Key,
		&payload,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		return storage.Request{}, err
	}
	request.Type = storage.RequestType(requestType)
	request.Payload = json.RawMessage(payload)
	request.CreatedAt = fromMillis(createdAt)
	request.ExpiresAt = fromMillis(expiresAt)
	return request, nil
}

// CreateRequest inserts a pending request, returning the existing key when an
// equivalent request is already pending.
func (s *Store) CreateRequest(ctx context.Context, request storage.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(request.Key) == "" {
		return "", fmt.Errorf("request key is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create request: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingKey string
	err = tx.QueryRowContext(ctx,
		"SELECT request_key FROM requests WHERE gamespace_id = ? AND account_id = ? AND request_type = ? AND request_object = ?",
		request.GamespaceID, request.Account, string(request.Type), request.Object,
	).Scan(&existingKey)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit create request: %w", err)
		}
		return existingKey, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("check pending request: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO requests (gamespace_id, account_id, request_type, request_object, request_key, request_payload, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		request.GamespaceID,
		request.Account,
		string(request.Type),
		request.Object,
		request.Key,
		normalizeDocument(request.Payload),
		toMillis(request.CreatedAt),
		toMillis(request.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", storage.ErrAlreadyExists
		}
		return "", fmt.Errorf("insert request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create request: %w", err)
	}
	return request.Key, nil
}

// AcquireRequest atomically fetches and deletes the request matching key.
func (s *Store) AcquireRequest(ctx context.Context, gamespaceID, account int64, key string) (storage.Request, error) {
	if err := ctx.Err(); err != nil {
		return storage.Request{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Request{}, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Request{}, fmt.Errorf("begin acquire request: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE gamespace_id = ? AND account_id = ? AND request_key = ?",
		gamespaceID, account, key,
	)
	request, err := scanRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Request{}, storage.ErrNotFound
		}
		return storage.Request{}, fmt.Errorf("load request: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM requests WHERE gamespace_id = ? AND account_id = ? AND request_type = ? AND request_object = ?",
		request.GamespaceID, request.Account, string(request.Type), request.Object,
	)
	if err != nil {
		return storage.Request{}, fmt.Errorf("consume request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Request{}, fmt.Errorf("commit acquire request: %w", err)
	}
	return request, nil
}

// DeleteRequest removes the request identified by its logical identity.
func (s *Store) DeleteRequest(ctx context.Context, gamespaceID, account int64, requestType storage.RequestType, object int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM requests WHERE gamespace_id = ? AND account_id = ? AND request_type = ? AND request_object = ?",
		gamespaceID, account, string(requestType), object,
	)
	if err != nil {
		return false, fmt.Errorf("delete request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete request result: %w", err)
	}
	return affected > 0, nil
}

// DeleteObjectRequests removes every request of requestType aimed at object.
func (s *Store) DeleteObjectRequests(ctx context.Context, gamespaceID int64, requestType storage.RequestType, object int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM requests WHERE gamespace_id = ? AND request_type = ? AND request_object = ?",
		gamespaceID, string(requestType), object,
	)
	if err != nil {
		return fmt.Errorf("delete object requests: %w", err)
	}
	return nil
}

// DeleteAccountRequests removes every request created by account.
func (s *Store) DeleteAccountRequests(ctx context.Context, gamespaceID, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM requests WHERE gamespace_id = ? AND account_id = ?",
		gamespaceID, account,
	)
	if err != nil {
		return fmt.Errorf("delete account requests: %w", err)
	}
	return nil
}

// DeleteExpiredRequests removes requests past their deadline.
func (s *Store) DeleteExpiredRequests(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM requests WHERE expires_at <= ?",
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired requests result: %w", err)
	}
	return affected, nil
}
