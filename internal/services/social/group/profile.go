package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/profile"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// UpdateGroupProfile applies update to the shared group profile. Any
// participant may update it. With merge the update is merged key by key and
// may contain arithmetic operations evaluated against the stored values.
func (e *Engine) UpdateGroupProfile(ctx context.Context, gamespaceID, groupID, account int64, update json.RawMessage, merge bool, notify json.RawMessage) (json.RawMessage, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return nil, err
	}
	isMember, err := e.HasGroupParticipation(ctx, gamespaceID, groupID, account)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeNotAMember, "account is not participating in the group")
	}

	updated, err := e.groups.UpdateGroupProfile(ctx, gamespaceID, groupID, func(current json.RawMessage) (json.RawMessage, error) {
		return profile.Apply(current, update, merge)
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "update group profile", err)
	}

	e.notifyGroup(ctx, group, account, message.TypeGroupProfileUpdated, notify, nil)
	return updated, nil
}

// UpdateGroupSummary renames the group or changes its join method. Owner
// only.
func (e *Engine) UpdateGroupSummary(ctx context.Context, gamespaceID, groupID, account int64, name *string, joinMethod *string, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.Owner != account {
		return apperrors.New(apperrors.CodeOwnershipConflict, "not the group owner")
	}

	var method *storage.JoinMethod
	if joinMethod != nil {
		parsed, ok := storage.ParseJoinMethod(*joinMethod)
		if !ok {
			return apperrors.New(apperrors.CodeBadInput, "unknown join method")
		}
		method = &parsed
	}

	if err := e.groups.UpdateGroupSummary(ctx, gamespaceID, groupID, name, method); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "update group summary", err)
	}

	if name != nil && *name != group.Name && len(notify) > 0 {
		payload, err := mergeNotify(notify, map[string]any{"name": *name})
		if err != nil {
			return err
		}
		e.notifyGroup(ctx, group, account, message.TypeGroupRenamed, payload, nil)
	}
	return nil
}

// UpdateParticipationProfile applies update to target's membership profile.
// Targets other than oneself require ownership or a strictly higher role.
func (e *Engine) UpdateParticipationProfile(ctx context.Context, gamespaceID, groupID, actor, target int64, update json.RawMessage, merge bool, notify json.RawMessage) (json.RawMessage, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return nil, err
	}
	if actor != target && group.Owner != actor {
		higher, err := e.CheckRoleHigher(ctx, gamespaceID, groupID, actor, target)
		if err != nil {
			return nil, err
		}
		if !higher {
			return nil, apperrors.New(apperrors.CodeNotAMember, "no permission to edit that participation")
		}
	}

	updated, err := e.groups.UpdateParticipationProfile(ctx, gamespaceID, groupID, target, func(current json.RawMessage) (json.RawMessage, error) {
		return profile.Apply(current, update, merge)
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNoSuchParticipation, "no such participation")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "update participation profile", err)
	}

	e.notifyGroup(ctx, group, actor, message.TypeParticipationProfileUpdated, notify, nil)
	return updated, nil
}

// UpdateParticipationPermissions sets target's role and permission set.
// The owner assigns freely. A non-owner may only lower its own role, and may
// edit another member only from a strictly higher role, assigning a role
// below its own and permissions it holds itself.
func (e *Engine) UpdateParticipationPermissions(ctx context.Context, gamespaceID, groupID, actor, target, role int64, permissions []string, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	if role < MinimumRole || role > MaximumRole {
		return apperrors.New(apperrors.CodeBadInput, fmt.Sprintf("role must be between %d and %d", MinimumRole, MaximumRole))
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}

	allow := func(int64) bool { return true }
	switch {
	case group.Owner == actor:
		// The owner assigns any role and permissions.
	case actor == target:
		allow = func(current int64) bool { return role <= current }
	default:
		participation, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, actor)
		if err != nil {
			return err
		}
		permissions = intersectPermissions(permissions, participation.Permissions)
		if role >= participation.Role {
			return apperrors.New(apperrors.CodeNotAMember, "cannot assign a role at or above your own")
		}
		actorRole := participation.Role
		allow = func(current int64) bool { return current < actorRole }
	}

	err = e.groups.UpdateParticipationRole(ctx, gamespaceID, groupID, target, role, permissions, allow)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRoleRejected):
			if actor == target {
				return apperrors.New(apperrors.CodeRoleConflict, "cannot raise your own role")
			}
			return apperrors.New(apperrors.CodeNotAMember, "cannot edit a member with a role at or above your own")
		case errors.Is(err, storage.ErrNotFound):
			return apperrors.New(apperrors.CodeNoSuchParticipation, "no such participation")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "update participation role", err)
	}

	if len(notify) > 0 {
		payload, err := mergeNotify(notify, map[string]any{
			"account_id": target,
			"role":       role,
		})
		if err != nil {
			return err
		}
		e.notifyGroup(ctx, group, actor, message.TypePermissionsUpdated, payload, nil)
	}
	return nil
}
