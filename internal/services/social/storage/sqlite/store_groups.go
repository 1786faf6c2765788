package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/halcyon-games/social/internal/services/social/storage"
)

const groupColumns = "group_id, gamespace_id, group_name, group_profile, group_flags, join_method, free_members, owner_account, created_at, updated_at"

func scanGroup(scanner interface{ Scan(...any) error }) (storage.Group, error) {
	var group storage.Group
	var profile, flags, joinMethod string
	var createdAt, updatedAt int64
	err := scanner.Scan(
		&group.GroupID,
		&group.GamespaceID,
		&group.Name,
		&profile,
		&flags,
		&joinMethod,
		&group.FreeMembers,
		&group.Owner,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storage.Group{}, err
	}
	group.Profile = json.RawMessage(profile)
	group.Flags = splitList(flags)
	group.JoinMethod = storage.JoinMethod(joinMethod)
	group.CreatedAt = fromMillis(createdAt)
	group.UpdatedAt = fromMillis(updatedAt)
	return group, nil
}

const participationColumns = "gamespace_id, group_id, account_id, participant_role, participant_permissions, participant_profile, created_at, updated_at"

func scanParticipation(scanner interface{ Scan(...any) error }) (storage.Participation, error) {
	var participation storage.Participation
	var permissions, profile string
	var createdAt, updatedAt int64
	err := scanner.Scan(
		&participation.GamespaceID,
		&participation.GroupID,
		&participation.Account,
		&participation.Role,
		&permissions,
		&profile,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storage.Participation{}, err
	}
	participation.Permissions = splitList(permissions)
	participation.Profile = json.RawMessage(profile)
	participation.CreatedAt = fromMillis(createdAt)
	participation.UpdatedAt = fromMillis(updatedAt)
	return participation, nil
}

// CreateGroup inserts a group and its owner participation in one transaction.
func (s *Store) CreateGroup(ctx context.Context, group storage.Group, owner storage.Participation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	result, err := tx.ExecContext(ctx, `
INSERT INTO groups (gamespace_id, group_name, group_profile, group_flags, join_method, free_members, owner_account, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.GamespaceID,
		group.Name,
		normalizeDocument(group.Profile),
		joinList(group.Flags),
		string(group.JoinMethod),
		group.FreeMembers,
		group.Owner,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("group id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO group_participants (gamespace_id, group_id, account_id, participant_role, participant_permissions, participant_profile, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		group.GamespaceID,
		groupID,
		owner.Account,
		owner.Role,
		joinList(owner.Permissions),
		normalizeDocument(owner.Profile),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert owner participation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create group: %w", err)
	}
	return groupID, nil
}

// GetGroup loads one group.
func (s *Store) GetGroup(ctx context.Context, gamespaceID, groupID int64) (storage.Group, error) {
	if err := ctx.Err(); err != nil {
		return storage.Group{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Group{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE gamespace_id = ? AND group_id = ?",
		gamespaceID, groupID,
	)
	group, err := scanGroup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Group{}, storage.ErrNotFound
		}
		return storage.Group{}, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// DeleteGroup removes a group and all of its participations.
func (s *Store) DeleteGroup(ctx context.Context, gamespaceID, groupID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM groups WHERE gamespace_id = ? AND group_id = ?",
		gamespaceID, groupID,
	)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete group result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM group_participants WHERE gamespace_id = ? AND group_id = ?",
		gamespaceID, groupID,
	)
	if err != nil {
		return fmt.Errorf("delete group participants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

// UpdateGroupSummary updates the mutable header fields that are present.
func (s *Store) UpdateGroupSummary(ctx context.Context, gamespaceID, groupID int64, name *string, joinMethod *storage.JoinMethod) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if name == nil && joinMethod == nil {
		return nil
	}

	query := "UPDATE groups SET updated_at = ?"
	args := []any{toMillis(time.Now())}
	if name != nil {
		query += ", group_name = ?"
		args = append(args, *name)
	}
	if joinMethod != nil {
		query += ", join_method = ?"
		args = append(args, string(*joinMethod))
	}
	query += " WHERE gamespace_id = ? AND group_id = ?"
	args = append(args, gamespaceID, groupID)

	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update group summary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update group summary result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateGroupProfile applies mutate to the stored profile in one transaction.
func (s *Store) UpdateGroupProfile(ctx context.Context, gamespaceID, groupID int64, mutate func(json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update group profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT group_profile FROM groups WHERE gamespace_id = ? AND group_id = ?",
		gamespaceID, groupID,
	).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load group profile: %w", err)
	}

	updated, err := mutate(json.RawMessage(current))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE groups SET group_profile = ?, updated_at = ? WHERE gamespace_id = ? AND group_id = ?",
		normalizeDocument(updated), toMillis(time.Now()), gamespaceID, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("store group profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update group profile: %w", err)
	}
	return updated, nil
}

// SetGroupOwner reassigns group ownership.
func (s *Store) SetGroupOwner(ctx context.Context, gamespaceID, groupID, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE groups SET owner_account = ?, updated_at = ? WHERE gamespace_id = ? AND group_id = ?",
		account, toMillis(time.Now()), gamespaceID, groupID,
	)
	if err != nil {
		return fmt.Errorf("set group owner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set group owner result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SearchGroups finds groups whose name matches every token prefix.
func (s *Store) SearchGroups(ctx context.Context, gamespaceID int64, tokens []string, limit int) ([]storage.Group, error) {
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
SELECT `+groupColumns+`
FROM groups
JOIN groups_fts ON groups_fts.rowid = groups.group_id
WHERE groups_fts MATCH ? AND gamespace_id = ?
LIMIT ?`,
		match, gamespaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	defer rows.Close()

	var groups []storage.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// AddParticipant inserts a membership, consuming one free slot.
func (s *Store) AddParticipant(ctx context.Context, participation storage.Participation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var freeMembers int64
	err = tx.QueryRowContext(ctx,
		"SELECT free_members FROM groups WHERE gamespace_id = ? AND group_id = ?",
		participation.GamespaceID, participation.GroupID,
	).Scan(&freeMembers)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load group capacity: %w", err)
	}
	if freeMembers <= 0 {
		return storage.ErrGroupFull
	}

	now := toMillis(time.Now())
	_, err = tx.ExecContext(ctx, `
INSERT INTO group_participants (gamespace_id, group_id, account_id, participant_role, participant_permissions, participant_profile, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		participation.GamespaceID,
		participation.GroupID,
		participation.Account,
		participation.Role,
		joinList(participation.Permissions),
		normalizeDocument(participation.Profile),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert participant: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE groups SET free_members = free_members - 1, updated_at = ? WHERE gamespace_id = ? AND group_id = ?",
		now, participation.GamespaceID, participation.GroupID,
	)
	if err != nil {
		return fmt.Errorf("consume member slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a membership and releases its slot.
func (s *Store) RemoveParticipant(ctx context.Context, gamespaceID, groupID, account int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM group_participants WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		gamespaceID, groupID, account,
	)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete participant result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE groups SET free_members = free_members + 1, updated_at = ? WHERE gamespace_id = ? AND group_id = ?",
		toMillis(time.Now()), gamespaceID, groupID,
	)
	if err != nil {
		return fmt.Errorf("release member slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove participant: %w", err)
	}
	return nil
}

// GetParticipation loads one membership record.
func (s *Store) GetParticipation(ctx context.Context, gamespaceID, groupID, account int64) (storage.Participation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Participation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Participation{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+participationColumns+" FROM group_participants WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		gamespaceID, groupID, account,
	)
	participation, err := scanParticipation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Participation{}, storage.ErrNotFound
		}
		return storage.Participation{}, fmt.Errorf("get participation: %w", err)
	}
	return participation, nil
}

// ListParticipants returns every membership of the group.
func (s *Store) ListParticipants(ctx context.Context, gamespaceID, groupID int64) ([]storage.Participation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+participationColumns+" FROM group_participants WHERE gamespace_id = ? AND group_id = ? ORDER BY account_id",
		gamespaceID, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []storage.Participation
	for rows.Next() {
		participation, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		participants = append(participants, participation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

// ListAccountGroups returns every membership the account holds.
func (s *Store) ListAccountGroups(ctx context.Context, gamespaceID, account int64) ([]storage.Participation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+participationColumns+" FROM group_participants WHERE gamespace_id = ? AND account_id = ? ORDER BY group_id",
		gamespaceID, account,
	)
	if err != nil {
		return nil, fmt.Errorf("list account groups: %w", err)
	}
	defer rows.Close()

	var participants []storage.Participation
	for rows.Next() {
		participation, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		participants = append(participants, participation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account groups: %w", err)
	}
	return participants, nil
}

// UpdateParticipationProfile applies mutate to the stored membership profile.
func (s *Store) UpdateParticipationProfile(ctx context.Context, gamespaceID, groupID, account int64, mutate func(json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update participation profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT participant_profile FROM group_participants WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		gamespaceID, groupID, account,
	).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load participation profile: %w", err)
	}

	updated, err := mutate(json.RawMessage(current))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE group_participants SET participant_profile = ?, updated_at = ? WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		normalizeDocument(updated), toMillis(time.Now()), gamespaceID, groupID, account,
	)
	if err != nil {
		return nil, fmt.Errorf("store participation profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update participation profile: %w", err)
	}
	return updated, nil
}

// UpdateParticipationRole sets role and permissions when allow accepts the
// current role.
func (s *Store) UpdateParticipationRole(ctx context.Context, gamespaceID, groupID, account int64, role int64, permissions []string, allow func(currentRole int64) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update participation role: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentRole int64
	err = tx.QueryRowContext(ctx,
		"SELECT participant_role FROM group_participants WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		gamespaceID, groupID, account,
	).Scan(&currentRole)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load participation role: %w", err)
	}
	if allow != nil && !allow(currentRole) {
		return storage.ErrRoleRejected
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE group_participants SET participant_role = ?, participant_permissions = ?, updated_at = ? WHERE gamespace_id = ? AND group_id = ? AND account_id = ?",
		role, joinList(permissions), toMillis(time.Now()), gamespaceID, groupID, account,
	)
	if err != nil {
		return fmt.Errorf("store participation role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update participation role: %w", err)
	}
	return nil
}
