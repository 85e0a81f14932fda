package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication.
//
// Every failure returned by Authenticator.Authenticate matches
// ErrUnauthenticated with errors.Is, whatever the specific cause.
var (
	// ErrUnauthenticated is the class of every authentication failure.
	ErrUnauthenticated = errors.New("authentication failed")

	// ErrMissingCredential indicates that no usable bearer credential was presented.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential indicates that the identity provider rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUserNotFound indicates that the verified subject has no user record.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownRole indicates that the stored role is not a known role.
	ErrUnknownRole = errors.New("unknown role")

	// ErrStoreUnavailable indicates that the user store could not be queried.
	ErrStoreUnavailable = errors.New("user store unavailable")
)

// Failure reasons, used as the metric "reason" label.
const (
	ReasonMissingCredential = "missing_credential"
	ReasonInvalidCredential = "invalid_credential"
	ReasonUserNotFound      = "user_not_found"
	ReasonUnknownRole       = "unknown_role"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonInternal          = "internal"
)

// Error is an authentication failure with its reason.
type Error struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrUnauthenticated, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrUnauthenticated, e.Reason)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports ErrUnauthenticated as a match in addition to the cause chain.
func (e *Error) Is(target error) bool {
	return target == ErrUnauthenticated
}

// newError classifies cause into an *Error.
func newError(cause error) *Error {
	return &Error{Reason: reasonFor(cause), Cause: cause}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return ReasonMissingCredential
	case errors.Is(err, ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, ErrUserNotFound):
		return ReasonUserNotFound
	case errors.Is(err, ErrUnknownRole):
		return ReasonUnknownRole
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	default:
		return ReasonInternal
	}
}
