package authz

import (
	"errors"
	"fmt"
)

// ErrForbidden indicates that an authenticated caller may not invoke the route.
var ErrForbidden = errors.New("access denied")

// DeniedError carries the route and reason of a denial.
type DeniedError struct {
	Route   string
	Subject string
	Reason  string
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: route %s: %s", ErrForbidden, e.Route, e.Reason)
}

// Is matches ErrForbidden.
func (e *DeniedError) Is(target error) bool {
	return target == ErrForbidden
}
