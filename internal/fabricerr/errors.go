// Package fabricerr implements the closed set of error kinds from spec §7.
// Every component that can fail returns one of these instead of an ad-hoc
// error string, so callers can branch on Kind instead of parsing messages.
package fabricerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds spec §7 defines.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	InvalidTenant      Kind = "invalid_tenant"
	InvalidToken       Kind = "invalid_token"
	CrossTenant        Kind = "cross_tenant"
	PermissionDenied   Kind = "permission_denied"
	NotFound           Kind = "not_found"
	RateLimited        Kind = "rate_limited"
	QuotaExceeded      Kind = "quota_exceeded"
	ChainDepthExceeded Kind = "chain_depth_exceeded"
	Timeout            Kind = "timeout"
	SandboxViolation   Kind = "sandbox_violation"
	UpstreamFailure    Kind = "upstream_failure"
	IntegrityError     Kind = "integrity_error"
)

// Error is a fabric error: a Kind plus a short, user-safe reason and an
// optional wrapped cause. Internal detail belongs in the wrapped cause and
// is logged, never surfaced to the caller beyond Reason.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a fabric error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds a fabric error wrapping an underlying cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Is reports whether err is a fabric error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not a fabric error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
