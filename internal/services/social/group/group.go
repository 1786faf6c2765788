// Package group implements multi-member social groups with roles,
// permissions, capacity and join policies.
package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/profilesvc"
	"github.com/halcyon-games/social/internal/services/social/request"
	"github.com/halcyon-games/social/internal/services/social/search"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// Role bounds. The owner starts at MaximumRole but ownership itself is
// tracked on the group row, not the role value.
const (
	MaximumRole = 1000
	MinimumRole = 0
)

// Membership capacity bounds.
const (
	DefaultMaxMembers = 50
	MinMembersLimit   = 2
	MaxMembersLimit   = 1000
)

// Permission tokens checked by the engine. Applications may define more.
const (
	PermissionRequestApproval = "request_approval"
	PermissionSendInvite      = "send_invite"
	PermissionKick            = "kick"
)

// FlagMessageSupport marks groups backed by a message-service group.
const FlagMessageSupport = "messages"

// Engine manages groups and their participants.
type Engine struct {
	groups   storage.GroupStore
	requests *request.Engine
	sender   message.Sender
	profiles profilesvc.Client
}

// NewEngine builds a group engine.
func NewEngine(groups storage.GroupStore, requests *request.Engine, sender message.Sender, profiles profilesvc.Client) *Engine {
	if sender == nil {
		sender = message.NopSender{}
	}
	return &Engine{
		groups:   groups,
		requests: requests,
		sender:   sender,
		profiles: profiles,
	}
}

func (e *Engine) ready() error {
	if e == nil || e.groups == nil {
		return apperrors.New(apperrors.CodeInternal, "group engine is not configured")
	}
	return nil
}

func messageGroup(gamespaceID, groupID int64) message.GroupRef {
	return message.GroupRef{
		GamespaceID: gamespaceID,
		Class:       message.GroupClass,
		Key:         strconv.FormatInt(groupID, 10),
	}
}

// notifyGroup posts a notification into the group's message-service group.
// Skipped silently for groups without message support.
func (e *Engine) notifyGroup(ctx context.Context, group storage.Group, sender int64, messageType string, payload json.RawMessage, flags []string) {
	if len(payload) == 0 || !group.HasFlag(FlagMessageSupport) {
		return
	}
	err := e.sender.SendMessage(ctx, message.Message{
		GamespaceID:    group.GamespaceID,
		Sender:         sender,
		RecipientClass: message.GroupClass,
		RecipientKey:   strconv.FormatInt(group.GroupID, 10),
		Type:           messageType,
		Payload:        payload,
		Flags:          flags,
	})
	if err != nil {
		log.Printf("group %d notify %s: %v", group.GroupID, messageType, err)
	}
}

func (e *Engine) notifyUser(ctx context.Context, gamespaceID, sender, recipient int64, messageType string, payload json.RawMessage, flags []string) {
	if len(payload) == 0 {
		return
	}
	err := e.sender.SendMessage(ctx, message.Message{
		GamespaceID:    gamespaceID,
		Sender:         sender,
		RecipientClass: message.RecipientUser,
		RecipientKey:   strconv.FormatInt(recipient, 10),
		Type:           messageType,
		Payload:        payload,
		Flags:          flags,
	})
	if err != nil {
		log.Printf("user %d notify %s: %v", recipient, messageType, err)
	}
}

// mergeNotify overlays extra keys onto a caller-supplied notify object.
func mergeNotify(notify json.RawMessage, extra map[string]any) (json.RawMessage, error) {
	payload := map[string]any{}
	if len(notify) > 0 {
		if err := json.Unmarshal(notify, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadInput, "notify must be a JSON object", err)
		}
	}
	for key, value := range extra {
		payload[key] = value
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode notify payload: %w", err)
	}
	return encoded, nil
}

func intersectPermissions(requested, granted []string) []string {
	allowed := make(map[string]struct{}, len(granted))
	for _, permission := range granted {
		allowed[permission] = struct{}{}
	}
	var result []string
	for _, permission := range requested {
		if _, ok := allowed[permission]; ok {
			result = append(result, permission)
		}
	}
	return result
}

// CreateParams describes a new group.
type CreateParams struct {
	Profile              json.RawMessage
	Flags                []string
	JoinMethod           storage.JoinMethod
	MaxMembers           int64
	Owner                int64
	ParticipationProfile json.RawMessage
	Name                 string
}

// CreateGroup creates a group together with its owner participation. The
// owner occupies one member slot. Groups flagged with message support also
// register a message-service group; failure there undoes the creation.
func (e *Engine) CreateGroup(ctx context.Context, gamespaceID int64, params CreateParams) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	maxMembers := params.MaxMembers
	if maxMembers == 0 {
		maxMembers = DefaultMaxMembers
	}
	if maxMembers < MinMembersLimit {
		return 0, apperrors.New(apperrors.CodeBadInput, fmt.Sprintf("max members cannot be less than %d", MinMembersLimit))
	}
	if maxMembers > MaxMembersLimit {
		return 0, apperrors.New(apperrors.CodeBadInput, fmt.Sprintf("max members cannot be more than %d", MaxMembersLimit))
	}

	joinMethod := params.JoinMethod
	if joinMethod == "" {
		joinMethod = storage.JoinFree
	}
	if _, ok := storage.ParseJoinMethod(string(joinMethod)); !ok {
		return 0, apperrors.New(apperrors.CodeBadInput, "unknown join method")
	}

	group := storage.Group{
		GamespaceID: gamespaceID,
		Name:        params.Name,
		Profile:     params.Profile,
		Flags:       params.Flags,
		JoinMethod:  joinMethod,
		FreeMembers: maxMembers - 1,
		Owner:       params.Owner,
	}
	owner := storage.Participation{
		GamespaceID: gamespaceID,
		Account:     params.Owner,
		Role:        MaximumRole,
		Profile:     params.ParticipationProfile,
	}

	groupID, err := e.groups.CreateGroup(ctx, group, owner)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "create group", err)
	}

	if group.HasFlag(FlagMessageSupport) {
		err := e.sender.CreateGroup(ctx, messageGroup(gamespaceID, groupID), params.Owner, message.RoleMember)
		if err != nil {
			if deleteErr := e.groups.DeleteGroup(ctx, gamespaceID, groupID); deleteErr != nil {
				log.Printf("undo group %d after message failure: %v", groupID, deleteErr)
			}
			return 0, apperrors.Wrap(apperrors.CodeInternal, "create message group", err)
		}
	}
	return groupID, nil
}

// DeleteGroup removes a group and all of its participations. Owner only.
func (e *Engine) DeleteGroup(ctx context.Context, gamespaceID, groupID, account int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}
	if group.Owner != account {
		return apperrors.New(apperrors.CodeNotAMember, "only the group owner can delete the group")
	}
	if err := e.groups.DeleteGroup(ctx, gamespaceID, groupID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "delete group", err)
	}
	return nil
}

// GetGroup loads one group.
func (e *Engine) GetGroup(ctx context.Context, gamespaceID, groupID int64) (storage.Group, error) {
	if err := e.ready(); err != nil {
		return storage.Group{}, err
	}
	group, err := e.groups.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Group{}, apperrors.New(apperrors.CodeNoSuchGroup, "no such group")
		}
		return storage.Group{}, apperrors.Wrap(apperrors.CodeInternal, "get group", err)
	}
	return group, nil
}

// GetGroupWithParticipants loads a group and its full member list.
func (e *Engine) GetGroupWithParticipants(ctx context.Context, gamespaceID, groupID int64) (storage.Group, []storage.Participation, error) {
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return storage.Group{}, nil, err
	}
	participants, err := e.ListGroupParticipants(ctx, gamespaceID, groupID)
	if err != nil {
		return storage.Group{}, nil, err
	}
	return group, participants, nil
}

// ListGroupParticipants returns every membership of the group.
func (e *Engine) ListGroupParticipants(ctx context.Context, gamespaceID, groupID int64) ([]storage.Participation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	participants, err := e.groups.ListParticipants(ctx, gamespaceID, groupID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list group participants", err)
	}
	return participants, nil
}

// GetGroupParticipation loads one membership record.
func (e *Engine) GetGroupParticipation(ctx context.Context, gamespaceID, groupID, account int64) (storage.Participation, error) {
	if err := e.ready(); err != nil {
		return storage.Participation{}, err
	}
	participation, err := e.groups.GetParticipation(ctx, gamespaceID, groupID, account)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Participation{}, apperrors.New(apperrors.CodeNoSuchParticipation, "no such participation")
		}
		return storage.Participation{}, apperrors.Wrap(apperrors.CodeInternal, "get participation", err)
	}
	return participation, nil
}

// HasGroupParticipation reports whether account is a member of the group.
func (e *Engine) HasGroupParticipation(ctx context.Context, gamespaceID, groupID, account int64) (bool, error) {
	_, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, account)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNoSuchParticipation {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetGroupParticipants loads membership records for a set of accounts.
func (e *Engine) GetGroupParticipants(ctx context.Context, gamespaceID, groupID int64, accounts []int64) (map[int64]storage.Participation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	result := make(map[int64]storage.Participation, len(accounts))
	for _, account := range accounts {
		participation, err := e.GetGroupParticipation(ctx, gamespaceID, groupID, account)
		if err != nil {
			return nil, err
		}
		result[account] = participation
	}
	return result, nil
}

// IsGroupOwner reports whether account owns the group.
func (e *Engine) IsGroupOwner(ctx context.Context, gamespaceID, groupID, account int64) (bool, error) {
	group, err := e.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return false, err
	}
	return group.Owner == account, nil
}

// CheckRoleHigher reports whether actor's role is strictly higher than
// target's in the group.
func (e *Engine) CheckRoleHigher(ctx context.Context, gamespaceID, groupID, actor, target int64) (bool, error) {
	participants, err := e.GetGroupParticipants(ctx, gamespaceID, groupID, []int64{actor, target})
	if err != nil {
		return false, err
	}
	return participants[actor].Role > participants[target].Role, nil
}

// ListAccountGroups returns every membership the account holds.
func (e *Engine) ListAccountGroups(ctx context.Context, gamespaceID, account int64) ([]storage.Participation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	participants, err := e.groups.ListAccountGroups(ctx, gamespaceID, account)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list account groups", err)
	}
	return participants, nil
}

// SearchGroups finds groups whose name matches every word of query.
func (e *Engine) SearchGroups(ctx context.Context, gamespaceID int64, query string) ([]storage.Group, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	tokens := search.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	groups, err := e.groups.SearchGroups(ctx, gamespaceID, tokens, search.ResultLimit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "search groups", err)
	}
	return groups, nil
}
