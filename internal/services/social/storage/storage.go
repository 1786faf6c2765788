// Package storage defines persistence contracts for the social service.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Storage errors shared by all backends.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness constraint was violated.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrGroupFull indicates a group has no free member slots left.
	ErrGroupFull = errors.New("group is full")
	// ErrNameTaken indicates a unique name is held by another account.
	ErrNameTaken = errors.New("name already taken")
	// ErrRoleRejected indicates a guarded role update was refused.
	ErrRoleRejected = errors.New("role update rejected")
)

// JoinMethod controls how accounts enter a group.
type JoinMethod string

const (
	// JoinFree lets any account join without ceremony.
	JoinFree JoinMethod = "free"
	// JoinInvite requires an invitation issued by a privileged member.
	JoinInvite JoinMethod = "invite"
	// JoinApprove requires a join request approved by a privileged member.
	JoinApprove JoinMethod = "approve"
)

// ParseJoinMethod validates a join method value.
func ParseJoinMethod(value string) (JoinMethod, bool) {
	switch JoinMethod(value) {
	case JoinFree, JoinInvite, JoinApprove:
		return JoinMethod(value), true
	}
	return "", false
}

// Group is one multi-member social group scoped to a gamespace.
type Group struct {
	GamespaceID int64
	GroupID     int64
	Name        string
	Profile     json.RawMessage
	Flags       []string
	JoinMethod  JoinMethod
	FreeMembers int64
	Owner       int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasFlag reports whether the group carries the named behavior flag.
func (g Group) HasFlag(flag string) bool {
	for _, f := range g.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Participation is one account's membership record inside a group.
type Participation struct {
	GamespaceID int64
	GroupID     int64
	Account     int64
	Role        int64
	Permissions []string
	Profile     json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPermission reports whether the membership grants the named permission.
func (p Participation) HasPermission(permission string) bool {
	for _, granted := range p.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// RequestType partitions the pending-request ledger.
type RequestType string

const (
	// RequestAccount marks account-to-account requests.
	RequestAccount RequestType = "account"
	// RequestGroup marks account-to-group requests.
	RequestGroup RequestType = "group"
)

// Request is one pending single-use request keyed by an opaque token.
type Request struct {
	GamespaceID int64
	Account     int64
	Type        RequestType
	Object      int64
	Key         string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Token links an account to an external credential identity.
type Token struct {
	GamespaceID int64
	Account     int64
	Credential  string
	Username    string
	AccessToken string
	ExpiresAt   time.Time
	Payload     json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NameRecord reserves a unique name of some kind for an account.
type NameRecord struct {
	GamespaceID int64
	Account     int64
	Kind        string
	Name        string
	CreatedAt   time.Time
}

// GroupStore persists groups and their participants.
//
// Multi-row invariants (capacity, ownership, role guards) are enforced inside
// single store transactions so concurrent writers cannot interleave.
type GroupStore interface {
	// CreateGroup inserts a group together with its owner participation and
	// returns the assigned group id.
	CreateGroup(ctx context.Context, group Group, owner Participation) (int64, error)
	// GetGroup loads one group.
	GetGroup(ctx context.Context, gamespaceID, groupID int64) (Group, error)
	// DeleteGroup removes a group and all of its participations.
	DeleteGroup(ctx context.Context, gamespaceID, groupID int64) error
	// UpdateGroupSummary updates the mutable header fields that are present.
	UpdateGroupSummary(ctx context.Context, gamespaceID, groupID int64, name *string, joinMethod *JoinMethod) error
	// UpdateGroupProfile applies mutate to the stored profile inside one
	// transaction and returns the updated document.
	UpdateGroupProfile(ctx context.Context, gamespaceID, groupID int64, mutate func(json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error)
	// SetGroupOwner reassigns group ownership to account.
	SetGroupOwner(ctx context.Context, gamespaceID, groupID, account int64) error
	// SearchGroups finds groups whose name matches every token prefix.
	SearchGroups(ctx context.Context, gamespaceID int64, tokens []string, limit int) ([]Group, error)

	// AddParticipant inserts a membership, consuming one free slot.
	// Returns ErrGroupFull when no slots remain and ErrAlreadyExists when the
	// account is already a member.
	AddParticipant(ctx context.Context, participation Participation) error
	// RemoveParticipant deletes a membership and releases its slot.
	RemoveParticipant(ctx context.Context, gamespaceID, groupID, account int64) error
	// GetParticipation loads one membership record.
	GetParticipation(ctx context.Context, gamespaceID, groupID, account int64) (Participation, error)
	// ListParticipants returns every membership of the group.
	ListParticipants(ctx context.Context, gamespaceID, groupID int64) ([]Participation, error)
	// ListAccountGroups returns every membership the account holds.
	ListAccountGroups(ctx context.Context, gamespaceID, account int64) ([]Participation, error)
	// UpdateParticipationProfile applies mutate to the stored membership
	// profile inside one transaction and returns the updated document.
	UpdateParticipationProfile(ctx context.Context, gamespaceID, groupID, account int64, mutate func(json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error)
	// UpdateParticipationRole sets role and permissions when allow accepts the
	// current role. Returns ErrRoleRejected otherwise.
	UpdateParticipationRole(ctx context.Context, gamespaceID, groupID, account int64, role int64, permissions []string, allow func(currentRole int64) bool) error
}

// ConnectionStore persists bilateral account connections.
type ConnectionStore interface {
	// CreateConnection inserts both directions of the pair in one transaction.
	CreateConnection(ctx context.Context, gamespaceID, account, other int64) error
	// DeleteConnection removes both directions of the pair.
	DeleteConnection(ctx context.Context, gamespaceID, account, other int64) error
	// ListConnections returns accounts connected to account.
	ListConnections(ctx context.Context, gamespaceID, account int64) ([]int64, error)
	// DeleteAccountConnections removes every pair the account belongs to.
	DeleteAccountConnections(ctx context.Context, gamespaceID, account int64) error
}

// RequestStore persists the pending-request ledger.
type RequestStore interface {
	// CreateRequest inserts request unless an equivalent pending request
	// already exists, in which case the existing key is returned.
	CreateRequest(ctx context.Context, request Request) (key string, err error)
	// AcquireRequest atomically fetches and deletes the request matching key.
	AcquireRequest(ctx context.Context, gamespaceID, account int64, key string) (Request, error)
	// DeleteRequest removes the request identified by its logical identity and
	// reports whether a row was deleted.
	DeleteRequest(ctx context.Context, gamespaceID, account int64, requestType RequestType, object int64) (bool, error)
	// DeleteObjectRequests removes every request of requestType aimed at
	// object, across all requesting accounts.
	DeleteObjectRequests(ctx context.Context, gamespaceID int64, requestType RequestType, object int64) error
	// DeleteAccountRequests removes every request created by account.
	DeleteAccountRequests(ctx context.Context, gamespaceID, account int64) error
	// DeleteExpiredRequests removes requests past their deadline and returns
	// the number of rows purged.
	DeleteExpiredRequests(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore persists external credential links.
type TokenStore interface {
	// UpsertToken inserts or refreshes a credential record, merging payload
	// keys over any stored payload, and returns the attached account (zero
	// when unattached).
	UpsertToken(ctx context.Context, token Token) (attached int64, err error)
	// AttachToken binds a stored credential record to account.
	AttachToken(ctx context.Context, gamespaceID int64, credential, username string, account int64) error
	// GetToken loads the account's record for one credential kind.
	GetToken(ctx context.Context, gamespaceID, account int64, credential string) (Token, error)
	// GetCredential loads a record by external identity.
	GetCredential(ctx context.Context, gamespaceID int64, credential, username string) (Token, error)
	// ListTokens returns every credential record attached to account.
	ListTokens(ctx context.Context, gamespaceID, account int64) ([]Token, error)
	// LookupAccounts maps credential/username pairs to attached accounts.
	// Keys are formatted as credential:username; unattached pairs are absent.
	LookupAccounts(ctx context.Context, gamespaceID int64, keys []string) (map[string]int64, error)
}

// NameStore persists the unique-name registry.
type NameStore interface {
	// AcquireName reserves record.Name for the account, replacing any name of
	// the same kind it already holds. Returns ErrNameTaken when another
	// account holds the name.
	AcquireName(ctx context.Context, record NameRecord) error
	// ReleaseName frees the account's name of kind and reports whether a
	// reservation existed.
	ReleaseName(ctx context.Context, gamespaceID, account int64, kind string) (bool, error)
	// CheckName returns the account holding name, or ErrNotFound when free.
	CheckName(ctx context.Context, gamespaceID int64, kind, name string) (int64, error)
	// SearchNames finds reservations whose name matches every token prefix.
	SearchNames(ctx context.Context, gamespaceID int64, kind string, tokens []string, limit int) ([]NameRecord, error)
	// DeleteAccountNames removes every reservation the account holds.
	DeleteAccountNames(ctx context.Context, gamespaceID, account int64) error
}

// Store aggregates every persistence contract of the social service.
type Store interface {
	GroupStore
	ConnectionStore
	RequestStore
	TokenStore
	NameStore
}
