// Package errors provides structured error handling for the social service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeBadInput Code = "BAD_INPUT"

	// Access errors
	CodeAuthRequired Code = "AUTH_REQUIRED"
	CodeForbidden    Code = "FORBIDDEN"

	// Request ledger errors
	CodeNoSuchRequest   Code = "NO_SUCH_REQUEST"
	CodeRequestExists   Code = "REQUEST_EXISTS"
	CodeBadRequestType  Code = "BAD_REQUEST_TYPE"
	CodeRequestMismatch Code = "REQUEST_MISMATCH"

	// Connection errors
	CodeConnectionExists Code = "CONNECTION_EXISTS"
	CodeNoSuchConnection Code = "NO_SUCH_CONNECTION"

	// Group errors
	CodeNoSuchGroup         Code = "NO_SUCH_GROUP"
	CodeNoSuchParticipation Code = "NO_SUCH_PARTICIPATION"
	CodeNotAMember          Code = "NOT_A_MEMBER"
	CodeGroupFull           Code = "GROUP_FULL"
	CodeAlreadyJoined       Code = "ALREADY_JOINED"
	CodeJoinMethodConflict  Code = "JOIN_METHOD_CONFLICT"
	CodeRoleConflict        Code = "ROLE_CONFLICT"
	CodeOwnershipConflict   Code = "OWNERSHIP_CONFLICT"
	CodeInviteKeyInvalid    Code = "INVITE_KEY_INVALID"

	// Token errors
	CodeNoSuchToken      Code = "NO_SUCH_TOKEN"
	CodeNoSuchCredential Code = "NO_SUCH_CREDENTIAL"

	// Unique name errors
	CodeNameTaken Code = "NAME_TAKEN"

	// Storage and collaborator failures
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps the code to its HTTP-style status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadInput, CodeBadRequestType:
		return http.StatusBadRequest
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNoSuchRequest, CodeNoSuchGroup, CodeNoSuchParticipation,
		CodeNoSuchToken, CodeNoSuchCredential, CodeNoSuchConnection:
		return http.StatusNotFound
	case CodeNotAMember, CodeRequestMismatch:
		return http.StatusNotAcceptable
	case CodeRequestExists, CodeConnectionExists, CodeAlreadyJoined,
		CodeJoinMethodConflict, CodeRoleConflict, CodeOwnershipConflict,
		CodeNameTaken:
		return http.StatusConflict
	case CodeGroupFull, CodeInviteKeyInvalid:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
