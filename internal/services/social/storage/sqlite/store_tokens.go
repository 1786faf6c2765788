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

const tokenColumns = "gamespace_id, account_id, credential, username, access_token, expires_at, token_payload, created_at, updated_at"

func scanToken(scanner interface{ Scan(...any) error }) (storage.Token, error) {
	var token storage.Token
	var payload string
	var expiresAt, createdAt, updatedAt int64
	err := scanner.Scan(
		&token.GamespaceID,
		&token.Account,
		&token.Credential,
		&token.Username,
		&token.AccessToken,
		&expiresAt,
		&payload,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storage.Token{}, err
	}
	token.Payload = json.RawMessage(payload)
	token.ExpiresAt = fromMillis(expiresAt)
	token.CreatedAt = fromMillis(createdAt)
	token.UpdatedAt = fromMillis(updatedAt)
	return token, nil
}

func mergePayload(stored, incoming json.RawMessage) (string, error) {
	merged := map[string]json.RawMessage{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &merged); err != nil {
			return "", fmt.Errorf("decode stored payload: %w", err)
		}
	}
	if len(incoming) > 0 {
		update := map[string]json.RawMessage{}
		if err := json.Unmarshal(incoming, &update); err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
		for key, value := range update {
			merged[key] = value
		}
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(encoded), nil
}

// UpsertToken inserts or refreshes a credential record and returns the
// attached account.
func (s *Store) UpsertToken(ctx context.Context, token storage.Token) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	credential := strings.TrimSpace(token.Credential)
	username := strings.TrimSpace(token.Username)
	if credential == "" || username == "" {
		return 0, fmt.Errorf("credential and username are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert token: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	var attached int64
	var storedPayload string
	err = tx.QueryRowContext(ctx,
		"SELECT account_id, token_payload FROM credential_tokens WHERE gamespace_id = ? AND credential = ? AND username = ?",
		token.GamespaceID, credential, username,
	).Scan(&attached, &storedPayload)
	switch {
	case err == sql.ErrNoRows:
		payload, err := mergePayload(nil, token.Payload)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO credential_tokens (gamespace_id, credential, username, account_id, access_token, expires_at, token_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			token.GamespaceID, credential, username, token.Account,
			token.AccessToken, toMillis(token.ExpiresAt), payload, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert token: %w", err)
		}
		attached = token.Account
	case err != nil:
		return 0, fmt.Errorf("load token: %w", err)
	default:
		payload, err := mergePayload(json.RawMessage(storedPayload), token.Payload)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE credential_tokens
SET access_token = ?, expires_at = ?, token_payload = ?, updated_at = ?
WHERE gamespace_id = ? AND credential = ? AND username = ?`,
			token.AccessToken, toMillis(token.ExpiresAt), payload, now,
			token.GamespaceID, credential, username,
		)
		if err != nil {
			return 0, fmt.Errorf("update token: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert token: %w", err)
	}
	return attached, nil
}

// AttachToken binds a stored credential record to account.
func (s *Store) AttachToken(ctx context.Context, gamespaceID int64, credential, username string, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE credential_tokens SET account_id = ?, updated_at = ? WHERE gamespace_id = ? AND credential = ? AND username = ?",
		account, toMillis(time.Now()), gamespaceID, credential, username,
	)
	if err != nil {
		return fmt.Errorf("attach token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach token result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetToken loads the account's record for one credential kind.
func (s *Store) GetToken(ctx context.Context, gamespaceID, account int64, credential string) (storage.Token, error) {
	if err := ctx.Err(); err != nil {
		return storage.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Token{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM credential_tokens WHERE gamespace_id = ? AND account_id = ? AND credential = ?",
		gamespaceID, account, credential,
	)
	token, err := scanToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Token{}, storage.ErrNotFound
		}
		return storage.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// GetCredential loads a record by external identity.
func (s *Store) GetCredential(ctx context.Context, gamespaceID int64, credential, username string) (storage.Token, error) {
	if err := ctx.Err(); err != nil {
		return storage.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Token{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM credential_tokens WHERE gamespace_id = ? AND credential = ? AND username = ?",
		gamespaceID, credential, username,
	)
	token, err := scanToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Token{}, storage.ErrNotFound
		}
		return storage.Token{}, fmt.Errorf("get credential: %w", err)
	}
	return token, nil
}

// ListTokens returns every credential record attached to account.
func (s *Store) ListTokens(ctx context.Context, gamespaceID, account int64) ([]storage.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM credential_tokens WHERE gamespace_id = ? AND account_id = ? ORDER BY credential",
		gamespaceID, account,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []storage.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// LookupAccounts maps credential:username keys to attached accounts.
func (s *Store) LookupAccounts(ctx context.Context, gamespaceID int64, keys []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	accounts := make(map[string]int64, len(keys))
	for _, key := range keys {
		credential, username, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		var account int64
		err := s.sqlDB.QueryRowContext(ctx,
			"SELECT account_id FROM credential_tokens WHERE gamespace_id = ? AND credential = ? AND username = ? AND account_id != 0",
			gamespaceID, credential, username,
		).Scan(&account)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		accounts[key] = account
	}
	return accounts, nil
}
