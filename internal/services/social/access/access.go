// Package access models the verified caller scopes the engines consult.
package access

import "strings"

// Scope names understood by the social service.
const (
	// ScopeSocial grants read access to the social graph.
	ScopeSocial = "social"
	// ScopeGroup grants group reads and member-level operations.
	ScopeGroup = "group"
	// ScopeGroupWrite grants mutating group operations.
	ScopeGroupWrite = "group_write"
	// ScopeGroupCreate grants group creation and deletion.
	ScopeGroupCreate = "group_create"
	// ScopeConnectionApproval lets the caller create connections directly,
	// bypassing the request/approve handshake.
	ScopeConnectionApproval = "connection_approval"
	// ScopeMessageAuthoritative marks the caller as trusted by the message
	// service; forwarded as the authoritative bit on notifications.
	ScopeMessageAuthoritative = "message_authoritative"
)

// Scopes is the set of scopes granted to a caller.
type Scopes map[string]struct{}

// Parse builds a scope set from a comma-separated list.
func Parse(list string) Scopes {
	scopes := Scopes{}
	for _, scope := range strings.Split(list, ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			scopes[scope] = struct{}{}
		}
	}
	return scopes
}

// New builds a scope set from individual scopes.
func New(scopes ...string) Scopes {
	result := make(Scopes, len(scopes))
	for _, scope := range scopes {
		result[scope] = struct{}{}
	}
	return result
}

// Has reports whether scope was granted.
func (s Scopes) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Authoritative reports whether notifications sent on behalf of this caller
// carry the authoritative bit.
func (s Scopes) Authoritative() bool {
	return s.Has(ScopeMessageAuthoritative)
}
