package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/halcyon-games/social/internal/services/social/storage"
)

// AcquireName reserves record.Name for the account, replacing any name of the
// same kind it already holds.
func (s *Store) AcquireName(ctx context.Context, record storage.NameRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO unique_names (gamespace_id, account_id, name_kind, name, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (gamespace_id, name_kind, account_id) DO UPDATE SET name = excluded.name`,
		record.GamespaceID, record.Account, record.Kind, name, toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrNameTaken
		}
		return fmt.Errorf("acquire name: %w", err)
	}
	return nil
}

// ReleaseName frees the account's name of kind.
func (s *Store) ReleaseName(ctx context.Context, gamespaceID, account int64, kind string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM unique_names WHERE gamespace_id = ? AND name_kind = ? AND account_id = ?",
		gamespaceID, kind, account,
	)
	if err != nil {
		return false, fmt.Errorf("release name: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release name result: %w", err)
	}
	return affected > 0, nil
}

// CheckName returns the account holding name.
func (s *Store) CheckName(ctx context.Context, gamespaceID int64, kind, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var account int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT account_id FROM unique_names WHERE gamespace_id = ? AND name_kind = ? AND name = ?",
		gamespaceID, kind, name,
	).Scan(&account)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("check name: %w", err)
	}
	return account, nil
}

// SearchNames finds reservations whose name matches every token prefix.
func (s *Store) SearchNames(ctx context.Context, gamespaceID int64, kind string, tokens []string, limit int) ([]storage.NameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	match := ftsMatch(tokens)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT gamespace_id, account_id, name_kind, name, created_at
FROM unique_names
JOIN unique_names_fts ON unique_names_fts.rowid = unique_names.name_id
WHERE unique_names_fts MATCH ? AND gamespace_id = ? AND name_kind = ?
LIMIT ?`,
		match, gamespaceID, kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search names: %w", err)
	}
	defer rows.Close()

	var records []storage.NameRecord
	for rows.Next() {
		var record storage.NameRecord
		var createdAt int64
		if err := rows.Scan(&record.GamespaceID, &record.Account, &record.Kind, &record.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return records, nil
}

// DeleteAccountNames removes every reservation the account holds.
func (s *Store) DeleteAccountNames(ctx context.Context, gamespaceID, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM unique_names WHERE gamespace_id = ? AND account_id = ?",
		gamespaceID, account,
	)
	if err != nil {
		return fmt.Errorf("delete account names: %w", err)
	}
	return nil
}
