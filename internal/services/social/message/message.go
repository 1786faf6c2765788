// Package message delivers notifications to the sibling message service.
package message

import (
	"context"
	"encoding/json"
)

// Recipient classes understood by the message service.
const (
	// RecipientUser addresses one account directly.
	RecipientUser = "user"
	// GroupClass is the message-service group class backing social groups.
	GroupClass = "social-group"
)

// Message types emitted by the social engines.
const (
	TypeConnectionRequest  = "connection_request"
	TypeConnectionCreated  = "connection_created"
	TypeConnectionApproved = "connection_approved"
	TypeConnectionRejected = "connection_rejected"
	TypeConnectionDeleted  = "connection_deleted"

	TypeGroupProfileUpdated         = "group_profile_updated"
	TypeParticipationProfileUpdated = "participation_profile_updated"
	TypePermissionsUpdated          = "permissions_updated"
	TypeOwnershipTransferred        = "ownership_transferred"
	TypeGroupRenamed                = "group_renamed"
	TypeGroupKicked                 = "kicked"
	TypeGroupInvite                 = "group_invite"
	TypeGroupInviteRejected         = "group_invite_rejected"
	TypeGroupRequest                = "group_request"
	TypeGroupRequestApproved        = "group_request_approved"
	TypeGroupRequestRejected        = "group_request_rejected"
)

// Delivery flags forwarded to the message service.
const (
	FlagRemoveDelivered = "remove_delivered"
	FlagEditable        = "editable"
	FlagDeletable       = "deletable"
)

// RoleMember is the message-service role granted to group members.
const RoleMember = "member"

// Message is one notification addressed to a user or a message group.
type Message struct {
	GamespaceID    int64
	Sender         int64
	RecipientClass string
	RecipientKey   string
	Type           string
	Payload        json.RawMessage
	Flags          []string
	Authoritative  bool
}

// GroupRef identifies a message-service group.
type GroupRef struct {
	GamespaceID int64
	Class       string
	Key         string
}

// Sender is the outbound contract to the message service.
//
// SendMessage is fire-and-forget at the call sites; CreateGroup and JoinGroup
// failures are fatal to the enclosing operation.
type Sender interface {
	SendMessage(ctx context.Context, m Message) error
	CreateGroup(ctx context.Context, group GroupRef, joinAccount int64, role string) error
	JoinGroup(ctx context.Context, group GroupRef, account int64, role string, notify json.RawMessage) error
	LeaveGroup(ctx context.Context, group GroupRef, account int64, notify json.RawMessage) error
}

// NopSender discards every notification. Used when no message service is
// configured.
type NopSender struct{}

var _ Sender = NopSender{}

func (NopSender) SendMessage(context.Context, Message) error { return nil }

func (NopSender) CreateGroup(context.Context, GroupRef, int64, string) error { return nil }

func (NopSender) JoinGroup(context.Context, GroupRef, int64, string, json.RawMessage) error {
	return nil
}

func (NopSender) LeaveGroup(context.Context, GroupRef, int64, json.RawMessage) error { return nil }
