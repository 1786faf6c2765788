package group

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// invitePayload travels inside invite requests.
type invitePayload struct {
	Role        int64    `json:"role"`
	Permissions []string `json:"permissions"`
}

// joinRequestPayload travels inside join-approval requests.
type joinRequestPayload struct {
	ParticipationProfile json.RawMessage `json:"participation_profile"`
}

// acquireGroupKey consumes a pending group request and validates it targets
// the expected group.
func (e *Engine) acquireGroupKey(ctx context.Context, gamespaceID, account, groupID int64, key string) (storage.Request, error) {
	pending, err := e.requests.Acquire(ctx, gamespaceID, account, key)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNoSuchRequest {
			return storage.Request{}, apperrors.New(apperrors.CodeInviteKeyInvalid, "no such invite request")
		}
		return storage.Request{}, err
	}
	if pending.Type != storage.RequestGroup {
		return storage.Request{}, apperrors.New(apperrors.CodeBadRequestType, "bad request type")
	}
	if pending.Object != groupID {
		return storage.Request{}, apperrors.New(apperrors.CodeRequestMismatch, "this key is not for that group")
	}
	return pending, nil
}

// InviteToGroup issues an invitation key for target. The inviter needs the
// send_invite permission unless it is the owner; the invited role is capped
// at the inviter's role and permissions at the inviter's permissions.
func (e *Engine) InviteToGroup(ctx context.Context, gamespaceID, groupID, inviter, target, role int64, permissions []string, notify json.RawMessage) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return "", err
	}
	if group.FreeMembers == 0 {
		return "", apperrors.New(apperrors.CodeGroupFull, "group is full")
	}
	if group.JoinMethod != storage.JoinInvite {
		return "", apperrors.New(apperrors.CodeJoinMethodConflict, "group is not invite-based")
	}

	participation, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, inviter)
	if err != nil {
		return "", err
	}
	if group.Owner != inviter {
		if !participation.HasPermission(PermissionSendInvite) {
			return "", apperrors.New(apperrors.CodeNotAMember, "no permission to send invites")
		}
		permissions = intersectPermissions(permissions, participation.Permissions)
		if role > participation.Role {
			return "", apperrors.New(apperrors.CodeRoleConflict, "invited role cannot be higher than yours")
		}
	}

	payload, err := json.Marshal(invitePayload{Role: role, Permissions: permissions})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "encode invite payload", err)
	}
	key, err := e.requests.Create(ctx, gamespaceID, target, storage.RequestGroup, groupID, payload)
	if err != nil {
		return "", err
	}

	if len(notify) > 0 && group.HasFlag(FlagMessageSupport) {
		decorated, err := mergeNotify(notify, map[string]any{
			"invite_group_id": strconv.FormatInt(groupID, 10),
			"key":             key,
		})
		if err != nil {
			return "", err
		}
		e.notifyUser(ctx, gamespaceID, inviter, target, message.TypeGroupInvite, decorated,
			[]string{message.FlagEditable, message.FlagDeletable})
	}
	return key, nil
}

// AcceptGroupInvitation joins the invited account using the role and
// permissions stored in the invitation.
func (e *Engine) AcceptGroupInvitation(ctx context.Context, gamespaceID, groupID, account int64, participationProfile json.RawMessage, key string, notify json.RawMessage) error {
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
	if group.JoinMethod != storage.JoinInvite {
		return apperrors.New(apperrors.CodeJoinMethodConflict, "group is not invite-based")
	}
	if key == "" {
		return apperrors.New(apperrors.CodeBadInput, "invite key is required")
	}

	pending, err := e.acquireGroupKey(ctx, gamespaceID, account, groupID, key)
	if err != nil {
		return err
	}
	var invite invitePayload
	if len(pending.Payload) > 0 {
		if err := json.Unmarshal(pending.Payload, &invite); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "decode invite payload", err)
		}
	}
	return e.join(ctx, group, account, invite.Role, invite.Permissions, participationProfile, notify)
}

// RejectGroupInvitation consumes the invitation without joining.
func (e *Engine) RejectGroupInvitation(ctx context.Context, gamespaceID, groupID, account int64, key string, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.JoinMethod != storage.JoinInvite {
		return apperrors.New(apperrors.CodeJoinMethodConflict, "group is not invite-based")
	}
	if key == "" {
		return apperrors.New(apperrors.CodeBadInput, "invite key is required")
	}
	if _, err := e.acquireGroupKey(ctx, gamespaceID, account, groupID, key); err != nil {
		return err
	}

	e.notifyGroup(ctx, group, account, message.TypeGroupInviteRejected, notify, []string{message.FlagRemoveDelivered})
	return nil
}

// JoinGroupRequest registers a join request for an approve-gated group and
// returns its key.
func (e *Engine) JoinGroupRequest(ctx context.Context, gamespaceID, groupID, account int64, participationProfile, notify json.RawMessage) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return "", err
	}
	if group.FreeMembers == 0 {
		return "", apperrors.New(apperrors.CodeGroupFull, "group is full")
	}
	if group.JoinMethod != storage.JoinApprove {
		return "", apperrors.New(apperrors.CodeJoinMethodConflict, "group join cannot be requested")
	}
	isMember, err := e.HasGroupParticipation(ctx, gamespaceID, groupID, account)
	if err != nil {
		return "", err
	}
	if isMember {
		return "", apperrors.New(apperrors.CodeAlreadyJoined, "account is already in the group")
	}

	payload, err := json.Marshal(joinRequestPayload{ParticipationProfile: participationProfile})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "encode join request payload", err)
	}
	key, err := e.requests.Create(ctx, gamespaceID, account, storage.RequestGroup, groupID, payload)
	if err != nil {
		return "", err
	}

	if len(notify) > 0 && group.HasFlag(FlagMessageSupport) {
		decorated, err := mergeNotify(notify, map[string]any{"key": key})
		if err != nil {
			return "", err
		}
		e.notifyGroup(ctx, group, account, message.TypeGroupRequest, decorated,
			[]string{message.FlagEditable, message.FlagDeletable})
	}
	return key, nil
}

// ApproveJoinGroup consumes a pending join request and admits the applicant
// with the approved role and permissions.
func (e *Engine) ApproveJoinGroup(ctx context.Context, gamespaceID, groupID, approver, applicant, role int64, key string, permissions []string, notify json.RawMessage) error {
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
	if group.JoinMethod != storage.JoinApprove {
		return apperrors.New(apperrors.CodeJoinMethodConflict, "group is not approve-based")
	}

	if group.Owner != approver {
		participation, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, approver)
		if err != nil {
			return err
		}
		if !participation.HasPermission(PermissionRequestApproval) {
			return apperrors.New(apperrors.CodeNotAMember, "no permission to approve join requests")
		}
		permissions = intersectPermissions(permissions, participation.Permissions)
		if role > participation.Role {
			return apperrors.New(apperrors.CodeRoleConflict, "approved role cannot be higher than yours")
		}
	}

	pending, err := e.acquireGroupKey(ctx, gamespaceID, applicant, groupID, key)
	if err != nil {
		return err
	}
	var requested joinRequestPayload
	if len(pending.Payload) > 0 {
		if err := json.Unmarshal(pending.Payload, &requested); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "decode join request payload", err)
		}
	}

	if err := e.join(ctx, group, applicant, role, permissions, requested.ParticipationProfile, notify); err != nil {
		return err
	}

	if len(notify) > 0 && group.HasFlag(FlagMessageSupport) {
		decorated, err := mergeNotify(notify, map[string]any{
			"approved_by": strconv.FormatInt(approver, 10),
			"group_id":    strconv.FormatInt(groupID, 10),
		})
		if err != nil {
			return err
		}
		e.notifyUser(ctx, gamespaceID, approver, applicant, message.TypeGroupRequestApproved, decorated,
			[]string{message.FlagRemoveDelivered})
	}
	return nil
}

// RejectJoinGroup consumes a pending join request without admitting the
// applicant.
func (e *Engine) RejectJoinGroup(ctx context.Context, gamespaceID, groupID, approver, applicant int64, key string, notify json.RawMessage) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.JoinMethod != storage.JoinApprove {
		return apperrors.New(apperrors.CodeJoinMethodConflict, "group is not approve-based")
	}
	if group.Owner != approver {
		participation, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, approver)
		if err != nil {
			return err
		}
		if !participation.HasPermission(PermissionRequestApproval) {
			return apperrors.New(apperrors.CodeNotAMember, "no permission to reject join requests")
		}
	}

	if _, err := e.acquireGroupKey(ctx, gamespaceID, applicant, groupID, key); err != nil {
		return err
	}

	if len(notify) > 0 && group.HasFlag(FlagMessageSupport) {
		decorated, err := mergeNotify(notify, map[string]any{
			"rejected_by": strconv.FormatInt(approver, 10),
			"group_id":    strconv.FormatInt(groupID, 10),
		})
		if err != nil {
			return err
		}
		e.notifyUser(ctx, gamespaceID, approver, applicant, message.TypeGroupRequestRejected, decorated,
			[]string{message.FlagRemoveDelivered})
	}
	return nil
}
