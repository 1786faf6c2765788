package group

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/request"
	"github.com/halcyon-games/social/internal/services/social/storage"
	"github.com/halcyon-games/social/internal/services/social/storage/sqlite"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []message.Message
	created  []message.GroupRef
	joined   []int64
	left     []int64
}

func (s *recordingSender) SendMessage(_ context.Context, m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *recordingSender) CreateGroup(_ context.Context, group message.GroupRef, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, group)
	return nil
}

func (s *recordingSender) JoinGroup(_ context.Context, _ message.GroupRef, account int64, _ string, _ json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, account)
	return nil
}

func (s *recordingSender) LeaveGroup(_ context.Context, _ message.GroupRef, account int64, _ json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, account)
	return nil
}

func (s *recordingSender) messagesOfType(messageType string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []message.Message
	for _, m := range s.messages {
		if m.Type == messageType {
			result = append(result, m)
		}
	}
	return result
}

func newTestEngine(t *testing.T) (*Engine, *recordingSender) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "social.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sender := &recordingSender{}
	return NewEngine(store, request.NewEngine(store), sender, nil), sender
}

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != code {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func mustCreate(t *testing.T, e *Engine, gamespaceID int64, params CreateParams) int64 {
	t.Helper()
	groupID, err := e.CreateGroup(context.Background(), gamespaceID, params)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return groupID
}

func TestCreateGroupOwnerTakesSlot(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Name:       "Night Raiders",
		Owner:      10,
		MaxMembers: 3,
		Flags:      []string{FlagMessageSupport},
		Profile:    json.RawMessage(`{"motto":"strike fast"}`),
	})

	group, participants, err := e.GetGroupWithParticipants(ctx, 1, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.FreeMembers != 2 {
		t.Fatalf("free members = %d, want 2", group.FreeMembers)
	}
	if group.Owner != 10 || group.JoinMethod != storage.JoinFree {
		t.Fatalf("group = %+v", group)
	}
	if len(participants) != 1 || participants[0].Account != 10 || participants[0].Role != MaximumRole {
		t.Fatalf("participants = %+v", participants)
	}
	if len(sender.created) != 1 {
		t.Fatalf("message groups created = %d, want 1", len(sender.created))
	}
}

func TestCreateGroupValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateGroup(ctx, 1, CreateParams{Owner: 10, MaxMembers: 1})
	wantCode(t, err, apperrors.CodeBadInput)

	_, err = e.CreateGroup(ctx, 1, CreateParams{Owner: 10, MaxMembers: MaxMembersLimit + 1})
	wantCode(t, err, apperrors.CodeBadInput)

	_, err = e.CreateGroup(ctx, 1, CreateParams{Owner: 10, JoinMethod: "lottery"})
	wantCode(t, err, apperrors.CodeBadInput)

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10})
	group, err := e.GetGroup(ctx, 1, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.FreeMembers != DefaultMaxMembers-1 {
		t.Fatalf("free members = %d, want default minus owner", group.FreeMembers)
	}
}

func TestJoinFreeGroupCapacity(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 2})

	if err := e.JoinGroup(ctx, 1, groupID, 11, nil, nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if participation.Role != MinimumRole {
		t.Fatalf("role = %d, want minimum", participation.Role)
	}

	wantCode(t, e.JoinGroup(ctx, 1, groupID, 12, nil, nil), apperrors.CodeGroupFull)
	wantCode(t, e.JoinGroup(ctx, 1, groupID, 11, nil, nil), apperrors.CodeGroupFull)

	inviteID := mustCreate(t, e, 1, CreateParams{Owner: 10, JoinMethod: storage.JoinInvite})
	wantCode(t, e.JoinGroup(ctx, 1, inviteID, 11, nil, nil), apperrors.CodeJoinMethodConflict)
}

func TestLeaveGroup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 2})
	if err := e.JoinGroup(ctx, 1, groupID, 11, nil, nil); err != nil {
		t.Fatalf("join: %v", err)
	}

	wantCode(t, e.LeaveGroup(ctx, 1, groupID, 10, nil), apperrors.CodeOwnershipConflict)

	if err := e.LeaveGroup(ctx, 1, groupID, 11, nil); err != nil {
		t.Fatalf("leave: %v", err)
	}
	wantCode(t, e.LeaveGroup(ctx, 1, groupID, 11, nil), apperrors.CodeNoSuchParticipation)

	// The freed slot is reusable.
	if err := e.JoinGroup(ctx, 1, groupID, 12, nil, nil); err != nil {
		t.Fatalf("rejoin freed slot: %v", err)
	}
}

func TestKick(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 5, Flags: []string{FlagMessageSupport}})
	for _, account := range []int64{11, 12, 13} {
		if err := e.JoinGroup(ctx, 1, groupID, account, nil, nil); err != nil {
			t.Fatalf("join %d: %v", account, err)
		}
	}
	if err := e.UpdateParticipationPermissions(ctx, 1, groupID, 10, 11, 500, []string{PermissionKick}, nil); err != nil {
		t.Fatalf("grant kick: %v", err)
	}
	if err := e.UpdateParticipationPermissions(ctx, 1, groupID, 10, 12, 500, nil, nil); err != nil {
		t.Fatalf("raise peer: %v", err)
	}

	wantCode(t, e.Kick(ctx, 1, groupID, 13, 11, nil), apperrors.CodeNotAMember)
	wantCode(t, e.Kick(ctx, 1, groupID, 11, 12, nil), apperrors.CodeNotAMember)
	wantCode(t, e.Kick(ctx, 1, groupID, 11, 10, nil), apperrors.CodeNotAMember)

	if err := e.Kick(ctx, 1, groupID, 11, 13, json.RawMessage(`{"reason":"afk"}`)); err != nil {
		t.Fatalf("kick: %v", err)
	}
	isMember, err := e.HasGroupParticipation(ctx, 1, groupID, 13)
	if err != nil {
		t.Fatalf("has participation: %v", err)
	}
	if isMember {
		t.Fatal("kicked account still participates")
	}

	kicked := sender.messagesOfType(message.TypeGroupKicked)
	if len(kicked) != 1 || kicked[0].RecipientKey != "13" {
		t.Fatalf("kicked messages = %+v", kicked)
	}
	var payload map[string]any
	if err := json.Unmarshal(kicked[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["reason"] != "afk" || payload["account_id"] != float64(13) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestTransferOwnership(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 3})
	if err := e.JoinGroup(ctx, 1, groupID, 11, nil, nil); err != nil {
		t.Fatalf("join: %v", err)
	}

	wantCode(t, e.TransferOwnership(ctx, 1, groupID, 11, 11, nil), apperrors.CodeOwnershipConflict)
	wantCode(t, e.TransferOwnership(ctx, 1, groupID, 10, 12, nil), apperrors.CodeNotAMember)

	if err := e.TransferOwnership(ctx, 1, groupID, 10, 11, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	group, err := e.GetGroup(ctx, 1, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Owner != 11 {
		t.Fatalf("owner = %d, want 11", group.Owner)
	}

	// The previous owner may now leave.
	if err := e.LeaveGroup(ctx, 1, groupID, 10, nil); err != nil {
		t.Fatalf("leave after transfer: %v", err)
	}
}

func TestInviteFlow(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Owner:      10,
		MaxMembers: 5,
		JoinMethod: storage.JoinInvite,
		Flags:      []string{FlagMessageSupport},
	})

	key, err := e.InviteToGroup(ctx, 1, groupID, 10, 11, 300, []string{PermissionSendInvite}, json.RawMessage(`{"from":"owner"}`))
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if key == "" {
		t.Fatal("empty invite key")
	}

	invites := sender.messagesOfType(message.TypeGroupInvite)
	if len(invites) != 1 || invites[0].RecipientKey != "11" {
		t.Fatalf("invite messages = %+v", invites)
	}
	var payload map[string]any
	if err := json.Unmarshal(invites[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["key"] != key || payload["invite_group_id"] == "" {
		t.Fatalf("payload = %v", payload)
	}

	wantCode(t, e.AcceptGroupInvitation(ctx, 1, groupID, 11, nil, "", nil), apperrors.CodeBadInput)
	wantCode(t, e.AcceptGroupInvitation(ctx, 1, groupID, 12, nil, key, nil), apperrors.CodeInviteKeyInvalid)

	if err := e.AcceptGroupInvitation(ctx, 1, groupID, 11, json.RawMessage(`{"nick":"Zed"}`), key, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if participation.Role != 300 || !participation.HasPermission(PermissionSendInvite) {
		t.Fatalf("participation = %+v", participation)
	}

	// Keys are single use.
	wantCode(t, e.AcceptGroupInvitation(ctx, 1, groupID, 11, nil, key, nil), apperrors.CodeInviteKeyInvalid)
}

func TestInviteAuthorization(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 5, JoinMethod: storage.JoinInvite})

	key, err := e.InviteToGroup(ctx, 1, groupID, 10, 11, 300, []string{PermissionSendInvite, PermissionKick}, nil)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := e.AcceptGroupInvitation(ctx, 1, groupID, 11, nil, key, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Invited role above the inviter's own is refused.
	_, err = e.InviteToGroup(ctx, 1, groupID, 11, 12, 400, nil, nil)
	wantCode(t, err, apperrors.CodeRoleConflict)

	// Permissions are clipped to what the inviter holds.
	key, err = e.InviteToGroup(ctx, 1, groupID, 11, 12, 200, []string{PermissionKick, PermissionRequestApproval}, nil)
	if err != nil {
		t.Fatalf("member invite: %v", err)
	}
	if err := e.AcceptGroupInvitation(ctx, 1, groupID, 12, nil, key, nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 12)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if participation.HasPermission(PermissionRequestApproval) || !participation.HasPermission(PermissionKick) {
		t.Fatalf("permissions = %v", participation.Permissions)
	}

	// A member without send_invite cannot invite at all.
	_, err = e.InviteToGroup(ctx, 1, groupID, 12, 13, 0, nil, nil)
	wantCode(t, err, apperrors.CodeNotAMember)

	// Outsiders cannot invite.
	_, err = e.InviteToGroup(ctx, 1, groupID, 99, 13, 0, nil, nil)
	wantCode(t, err, apperrors.CodeNoSuchParticipation)

	freeID := mustCreate(t, e, 1, CreateParams{Owner: 10})
	_, err = e.InviteToGroup(ctx, 1, freeID, 10, 11, 0, nil, nil)
	wantCode(t, err, apperrors.CodeJoinMethodConflict)
}

func TestRejectGroupInvitation(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Owner:      10,
		MaxMembers: 5,
		JoinMethod: storage.JoinInvite,
		Flags:      []string{FlagMessageSupport},
	})
	key, err := e.InviteToGroup(ctx, 1, groupID, 10, 11, 0, nil, nil)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if err := e.RejectGroupInvitation(ctx, 1, groupID, 11, key, json.RawMessage(`{"reason":"busy"}`)); err != nil {
		t.Fatalf("reject: %v", err)
	}
	isMember, err := e.HasGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("has participation: %v", err)
	}
	if isMember {
		t.Fatal("rejected invite still joined")
	}
	if rejected := sender.messagesOfType(message.TypeGroupInviteRejected); len(rejected) != 1 {
		t.Fatalf("rejection messages = %+v", rejected)
	}

	// The key is burned.
	wantCode(t, e.AcceptGroupInvitation(ctx, 1, groupID, 11, nil, key, nil), apperrors.CodeInviteKeyInvalid)
}

func TestJoinRequestApproveFlow(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Owner:      10,
		MaxMembers: 5,
		JoinMethod: storage.JoinApprove,
		Flags:      []string{FlagMessageSupport},
	})

	key, err := e.JoinGroupRequest(ctx, 1, groupID, 11, json.RawMessage(`{"nick":"Zed"}`), json.RawMessage(`{"greeting":"hi"}`))
	if err != nil {
		t.Fatalf("join request: %v", err)
	}
	requests := sender.messagesOfType(message.TypeGroupRequest)
	if len(requests) != 1 || requests[0].RecipientClass != message.GroupClass {
		t.Fatalf("request messages = %+v", requests)
	}

	// Members cannot request to join again.
	_, err = e.JoinGroupRequest(ctx, 1, groupID, 10, nil, nil)
	wantCode(t, err, apperrors.CodeAlreadyJoined)

	// Direct join on an approve-gated group is refused.
	wantCode(t, e.JoinGroup(ctx, 1, groupID, 11, nil, nil), apperrors.CodeJoinMethodConflict)

	if err := e.ApproveJoinGroup(ctx, 1, groupID, 10, 11, 100, key, nil, json.RawMessage(`{"welcome":true}`)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if participation.Role != 100 || string(participation.Profile) != `{"nick":"Zed"}` {
		t.Fatalf("participation = %+v", participation)
	}

	approved := sender.messagesOfType(message.TypeGroupRequestApproved)
	if len(approved) != 1 || approved[0].RecipientKey != "11" {
		t.Fatalf("approval messages = %+v", approved)
	}
	var payload map[string]any
	if err := json.Unmarshal(approved[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["approved_by"] != "10" {
		t.Fatalf("payload = %v", payload)
	}

	// The consumed key cannot be approved twice.
	err = e.ApproveJoinGroup(ctx, 1, groupID, 10, 11, 100, key, nil, nil)
	wantCode(t, err, apperrors.CodeInviteKeyInvalid)
}

func TestRejectJoinGroup(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Owner:      10,
		MaxMembers: 5,
		JoinMethod: storage.JoinApprove,
		Flags:      []string{FlagMessageSupport},
	})
	key, err := e.JoinGroupRequest(ctx, 1, groupID, 11, nil, nil)
	if err != nil {
		t.Fatalf("join request: %v", err)
	}

	// Outsiders cannot reject.
	wantCode(t, e.RejectJoinGroup(ctx, 1, groupID, 99, 11, key, nil), apperrors.CodeNoSuchParticipation)

	if err := e.RejectJoinGroup(ctx, 1, groupID, 10, 11, key, json.RawMessage(`{"reason":"full roster"}`)); err != nil {
		t.Fatalf("reject: %v", err)
	}
	rejected := sender.messagesOfType(message.TypeGroupRequestRejected)
	if len(rejected) != 1 || rejected[0].RecipientKey != "11" {
		t.Fatalf("rejection messages = %+v", rejected)
	}
	isMember, err := e.HasGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("has participation: %v", err)
	}
	if isMember {
		t.Fatal("rejected applicant joined anyway")
	}
}

func TestApproveWrongGroupKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	firstID := mustCreate(t, e, 1, CreateParams{Owner: 10, JoinMethod: storage.JoinApprove})
	secondID := mustCreate(t, e, 1, CreateParams{Owner: 10, JoinMethod: storage.JoinApprove})

	key, err := e.JoinGroupRequest(ctx, 1, firstID, 11, nil, nil)
	if err != nil {
		t.Fatalf("join request: %v", err)
	}

	// The mismatch still burns the key.
	err = e.ApproveJoinGroup(ctx, 1, secondID, 10, 11, 0, key, nil, nil)
	wantCode(t, err, apperrors.CodeRequestMismatch)
	err = e.ApproveJoinGroup(ctx, 1, firstID, 10, 11, 0, key, nil, nil)
	wantCode(t, err, apperrors.CodeInviteKeyInvalid)
}

func TestUpdateParticipationPermissions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 5})
	for _, account := range []int64{11, 12} {
		if err := e.JoinGroup(ctx, 1, groupID, account, nil, nil); err != nil {
			t.Fatalf("join %d: %v", account, err)
		}
	}

	wantCode(t, e.UpdateParticipationPermissions(ctx, 1, groupID, 10, 11, MaximumRole+1, nil, nil), apperrors.CodeBadInput)

	// The owner assigns freely.
	if err := e.UpdateParticipationPermissions(ctx, 1, groupID, 10, 11, 500, []string{PermissionKick, PermissionSendInvite}, nil); err != nil {
		t.Fatalf("owner assign: %v", err)
	}

	// A member may lower its own role but not raise it.
	if err := e.UpdateParticipationPermissions(ctx, 1, groupID, 11, 11, 400, []string{PermissionKick}, nil); err != nil {
		t.Fatalf("self lower: %v", err)
	}
	wantCode(t, e.UpdateParticipationPermissions(ctx, 1, groupID, 11, 11, 600, nil, nil), apperrors.CodeRoleConflict)

	// Editing another member needs a strictly higher role and assigns below
	// one's own role with one's own permissions at most.
	wantCode(t, e.UpdateParticipationPermissions(ctx, 1, groupID, 11, 12, 400, nil, nil), apperrors.CodeNotAMember)
	if err := e.UpdateParticipationPermissions(ctx, 1, groupID, 11, 12, 200, []string{PermissionKick, PermissionRequestApproval}, nil); err != nil {
		t.Fatalf("edit lower member: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 12)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	if participation.Role != 200 {
		t.Fatalf("role = %d, want 200", participation.Role)
	}
	if participation.HasPermission(PermissionRequestApproval) || !participation.HasPermission(PermissionKick) {
		t.Fatalf("permissions = %v", participation.Permissions)
	}

	// A lower role cannot edit a higher one.
	wantCode(t, e.UpdateParticipationPermissions(ctx, 1, groupID, 12, 11, 100, nil, nil), apperrors.CodeNotAMember)
}

func TestUpdateGroupProfileMergeConcurrent(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		update  string
		want    float64
	}{
		{"increment", `{"value":1}`, `{"value":{"@func":"++","@value":1}}`, 11},
		{"decrement", `{"value":100}`, `{"value":{"@func":"--","@value":1}}`, 90},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()

			groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, Profile: json.RawMessage(test.initial)})

			var eg errgroup.Group
			for i := 0; i < 10; i++ {
				eg.Go(func() error {
					_, err := e.UpdateGroupProfile(ctx, 1, groupID, 10,
						json.RawMessage(test.update), true, nil)
					return err
				})
			}
			if err := eg.Wait(); err != nil {
				t.Fatalf("concurrent merge: %v", err)
			}

			group, err := e.GetGroup(ctx, 1, groupID)
			if err != nil {
				t.Fatalf("get group: %v", err)
			}
			var doc map[string]float64
			if err := json.Unmarshal(group.Profile, &doc); err != nil {
				t.Fatalf("decode profile: %v", err)
			}
			if doc["value"] != test.want {
				t.Fatalf("value = %v, want %v after ten updates", doc["value"], test.want)
			}
		})
	}
}

func TestUpdateGroupProfileReplaceAndAccess(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{
		Owner:   10,
		Profile: json.RawMessage(`{"motto":"old","tier":3}`),
		Flags:   []string{FlagMessageSupport},
	})

	_, err := e.UpdateGroupProfile(ctx, 1, groupID, 99, json.RawMessage(`{}`), false, nil)
	wantCode(t, err, apperrors.CodeNotAMember)

	updated, err := e.UpdateGroupProfile(ctx, 1, groupID, 10,
		json.RawMessage(`{"motto":"new"}`), false, json.RawMessage(`{"changed":"motto"}`))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(updated, &doc); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if doc["motto"] != "new" {
		t.Fatalf("doc = %v", doc)
	}
	if _, ok := doc["tier"]; ok {
		t.Fatal("replace kept an old key")
	}
	if notices := sender.messagesOfType(message.TypeGroupProfileUpdated); len(notices) != 1 {
		t.Fatalf("profile notices = %+v", notices)
	}
}

func TestUpdateParticipationProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 5})
	for _, account := range []int64{11, 12} {
		if err := e.JoinGroup(ctx, 1, groupID, account, nil, nil); err != nil {
			t.Fatalf("join %d: %v", account, err)
		}
	}

	// Self edit is always allowed.
	updated, err := e.UpdateParticipationProfile(ctx, 1, groupID, 11, 11, json.RawMessage(`{"nick":"Zed"}`), true, nil)
	if err != nil {
		t.Fatalf("self edit: %v", err)
	}
	if string(updated) == "" {
		t.Fatal("empty updated profile")
	}

	// Peers with equal roles cannot edit each other.
	_, err = e.UpdateParticipationProfile(ctx, 1, groupID, 12, 11, json.RawMessage(`{"nick":"X"}`), true, nil)
	wantCode(t, err, apperrors.CodeNotAMember)

	// The owner edits anyone.
	if _, err := e.UpdateParticipationProfile(ctx, 1, groupID, 10, 11, json.RawMessage(`{"title":"scout"}`), true, nil); err != nil {
		t.Fatalf("owner edit: %v", err)
	}
	participation, err := e.GetGroupParticipation(ctx, 1, groupID, 11)
	if err != nil {
		t.Fatalf("get participation: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(participation.Profile, &doc); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if doc["nick"] != "Zed" || doc["title"] != "scout" {
		t.Fatalf("profile = %v", doc)
	}
}

func TestUpdateGroupSummary(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, Name: "Old Guard", Flags: []string{FlagMessageSupport}})

	name := "New Guard"
	wantCode(t, e.UpdateGroupSummary(ctx, 1, groupID, 11, &name, nil, nil), apperrors.CodeOwnershipConflict)

	badMethod := "lottery"
	wantCode(t, e.UpdateGroupSummary(ctx, 1, groupID, 10, nil, &badMethod, nil), apperrors.CodeBadInput)

	method := string(storage.JoinApprove)
	if err := e.UpdateGroupSummary(ctx, 1, groupID, 10, &name, &method, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	group, err := e.GetGroup(ctx, 1, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Name != name || group.JoinMethod != storage.JoinApprove {
		t.Fatalf("group = %+v", group)
	}
	renames := sender.messagesOfType(message.TypeGroupRenamed)
	if len(renames) != 1 {
		t.Fatalf("rename notices = %+v", renames)
	}
}

func TestSearchGroups(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, e, 1, CreateParams{Owner: 10, Name: "Northern Alliance"})
	mustCreate(t, e, 1, CreateParams{Owner: 10, Name: "Northern Lights"})
	mustCreate(t, e, 1, CreateParams{Owner: 10, Name: "Southern Cross"})
	mustCreate(t, e, 2, CreateParams{Owner: 10, Name: "Northern Star"})

	groups, err := e.SearchGroups(ctx, 1, "north")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("results = %d, want 2 within the gamespace", len(groups))
	}

	groups, err = e.SearchGroups(ctx, 1, "northern lig")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "Northern Lights" {
		t.Fatalf("results = %+v", groups)
	}

	groups, err = e.SearchGroups(ctx, 1, "zz")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if groups != nil {
		t.Fatalf("short query results = %+v, want nil", groups)
	}
}

func TestDeleteGroup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	groupID := mustCreate(t, e, 1, CreateParams{Owner: 10, MaxMembers: 3})
	if err := e.JoinGroup(ctx, 1, groupID, 11, nil, nil); err != nil {
		t.Fatalf("join: %v", err)
	}

	wantCode(t, e.DeleteGroup(ctx, 1, groupID, 11), apperrors.CodeNotAMember)
	if err := e.DeleteGroup(ctx, 1, groupID, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := e.GetGroup(ctx, 1, groupID)
	wantCode(t, err, apperrors.CodeNoSuchGroup)
}
