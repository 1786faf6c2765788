package group

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// join inserts a participation and, for message-flagged groups, joins the
// message-service group. The message join is fatal: on failure the freshly
// inserted participation is removed again.
func (e *Engine) join(ctx context.Context, group storage.Group, account, role int64, permissions []string, participationProfile, notify json.RawMessage) error {
	err := e.groups.AddParticipant(ctx, storage.Participation{
		GamespaceID: group.GamespaceID,
		GroupID:     group.GroupID,
		Account:     account,
		Role:        role,
		Permissions: permissions,
		Profile:     participationProfile,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrGroupFull):
			return apperrors.New(apperrors.CodeGroupFull, "group is full")
		case errors.Is(err, storage.ErrAlreadyExists):
			return apperrors.New(apperrors.CodeAlreadyJoined, "account has already joined the group")
		case errors.Is(err, storage.ErrNotFound):
			return apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "join group", err)
	}

	if group.HasFlag(FlagMessageSupport) {
		err := e.sender.JoinGroup(ctx, messageGroup(group.GamespaceID, group.GroupID), account, message.RoleMember, notify)
		if err != nil {
			if removeErr := e.groups.RemoveParticipant(ctx, group.GamespaceID, group.GroupID, account); removeErr != nil {
				log.Printf("undo join of %d to group %d: %v", account, group.GroupID, removeErr)
			}
			return apperrors.Wrap(apperrors.CodeInternal, "join message group", err)
		}
	}
	return nil
}

// JoinGroup adds account to a free-join group with the minimum role.
func (e *Engine) JoinGroup(ctx context.Context, gamespaceID, groupID, account int64, participationProfile, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.FreeMembers == 0 {
		return apperrors.New(apperrors.CodeGroupFull, "group is full")
	}
	if group.JoinMethod != storage.JoinFree {
		return apperrors.New(apperrors.CodeJoinMethodConflict, "group join method is not free")
	}
	return e.join(ctx, group, account, MinimumRole, nil, participationProfile, notify)
}

// LeaveGroup removes account from the group. The owner must transfer
// ownership first.
func (e *Engine) LeaveGroup(ctx context.Context, gamespaceID, groupID, account int64, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.Owner == account {
		return apperrors.New(apperrors.CodeOwnershipConflict, "group owner cannot leave, transfer ownership first")
	}

	err = e.groups.RemoveParticipant(ctx, gamespaceID, groupID, account)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchParticipation, "no such participation")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "leave group", err)
	}

	if group.HasFlag(FlagMessageSupport) {
		if err := e.sender.LeaveGroup(ctx, messageGroup(gamespaceID, groupID), account, notify); err != nil {
			log.Printf("leave message group %d: %v", groupID, err)
		}
	}
	return nil
}

// Kick removes target from the group on behalf of actor.
func (e *Engine) Kick(ctx context.Context, gamespaceID, groupID, actor, target int64, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.Owner == target {
		return apperrors.New(apperrors.CodeNotAMember, "the group owner cannot be kicked")
	}
	if group.Owner != actor {
		participants, err := e.GetGroupParticipants(ctx, gamespaceID, groupID, []int64{actor, target})
		if err != nil {
			return err
		}
		if !participants[actor].HasPermission(PermissionKick) {
			return apperrors.New(apperrors.CodeNotAMember, "no permission to kick")
		}
		if participants[target].Role >= participants[actor].Role {
			return apperrors.New(apperrors.CodeNotAMember, "cannot kick a member with a higher role")
		}
	}

	err = e.groups.RemoveParticipant(ctx, gamespaceID, groupID, target)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchParticipation, "no such participation")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "kick from group", err)
	}

	if group.HasFlag(FlagMessageSupport) {
		if err := e.sender.LeaveGroup(ctx, messageGroup(gamespaceID, groupID), target, notify); err != nil {
			log.Printf("leave message group %d: %v", groupID, err)
		}
	}
	if len(notify) > 0 {
		payload, err := mergeNotify(notify, map[string]any{"account_id": target})
		if err != nil {
			return err
		}
		e.notifyUser(ctx, gamespaceID, actor, target, message.TypeGroupKicked, payload, []string{message.FlagRemoveDelivered})
	}
	return nil
}

// TransferOwnership reassigns the group to target, who must already be a
// participant.
func (e *Engine) TransferOwnership(ctx context.Context, gamespaceID, groupID, actor, target int64, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.Owner != actor {
		return apperrors.New(apperrors.CodeOwnershipConflict, "not the group owner")
	}
	isMember, err := e.HasGroupParticipation(ctx, gamespaceID, groupID, target)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.New(apperrors.CodeNotAMember, "transfer target is not participating in the group")
	}

	if err := e.groups.SetGroupOwner(ctx, gamespaceID, groupID, target); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "transfer ownership", err)
	}

	e.notifyGroup(ctx, group, actor, message.TypeOwnershipTransferred, notify, nil)
	return nil
}
