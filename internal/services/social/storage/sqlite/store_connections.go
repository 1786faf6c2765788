package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyon-games/social/internal/services/social/storage"
)

// CreateConnection inserts both directions of the pair in one transaction.
func (s *Store) CreateConnection(ctx context.Context, gamespaceID, account, other int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if account == other {
		return fmt.Errorf("connection accounts must differ")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create connection: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	for _, pair := range [][2]int64{{account, other}, {other, account}} {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO account_connections (gamespace_id, account_id, connected_account, created_at) VALUES (?, ?, ?, ?)",
			gamespaceID, pair[0], pair[1], now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("insert connection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create connection: %w", err)
	}
	return nil
}

// DeleteConnection removes both directions of the pair.
func (s *Store) DeleteConnection(ctx context.Context, gamespaceID, account, other int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM account_connections
WHERE gamespace_id = ?
  AND ((account_id = ? AND connected_account = ?) OR (account_id = ? AND connected_account = ?))`,
		gamespaceID, account, other, other, account,
	)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete connection result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListConnections returns accounts connected to account.
func (s *Store) ListConnections(ctx context.Context, gamespaceID, account int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT connected_account FROM account_connections WHERE gamespace_id = ? AND account_id = ? ORDER BY connected_account",
		gamespaceID, account,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var connected []int64
	for rows.Next() {
		var other int64
		if err := rows.Scan(&other); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		connected = append(connected, other)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return connected, nil
}

// DeleteAccountConnections removes every pair the account belongs to.
func (s *Store) DeleteAccountConnections(ctx context.Context, gamespaceID, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM account_connections WHERE gamespace_id = ? AND (account_id = ? OR connected_account = ?)",
		gamespaceID, account, account,
	)
	if err != nil {
		return fmt.Errorf("delete account connections: %w", err)
	}
	return nil
}
