// Package apperr defines the typed error taxonomy shared by all services.
// Expected business outcomes (duplicate uploads, "not admin", exhausted
// invites) are regular result values or typed denials, never panics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = "validation"
	// KindNotFound marks an unknown team, invite, batch or membership.
	KindNotFound Kind = "not_found"
	// KindPermission marks a role or membership mismatch. Never retried.
	KindPermission Kind = "permission"
	// KindConflict marks a state conflict (exhausted invite, already in a
	// team, last admin leaving). Carries a machine-readable reason.
	KindConflict Kind = "conflict"
	// KindTransient marks store timeouts or contention. The whole operation
	// is safe to retry from the caller side; the core never auto-retries.
	KindTransient Kind = "transient"
)

// Machine-readable reasons surfaced to callers for precise messaging.
const (
	ReasonInviteNotFound  = "not_found"
	ReasonInviteExpired   = "expired"
	ReasonInviteExhausted = "exhausted"
	ReasonInviteRevoked   = "revoked"
	ReasonNotMember       = "not_member"
	ReasonNotAdmin        = "not_admin"
	ReasonAlreadyInTeam   = "already_in_team"
	ReasonLastAdmin       = "last_admin"
	ReasonOwnerRole       = "owner_role"
	ReasonSelfTarget      = "self_target"
)

// Error is the single error type crossing service boundaries.
type Error struct {
	Kind    Kind
	Reason  string // optional machine-readable detail
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Permission returns a KindPermission error with a reason.
func Permission(reason, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermission, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error with a reason.
func Conflict(reason, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a store failure that is safe to retry wholesale.
func Transient(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf extracts the machine-readable reason from err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
