package route

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload indicates a request body that is not a JSON object
	// or does not satisfy the route's schema.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownCommand indicates an async command with no async route.
	ErrUnknownCommand = errors.New("unknown command")
)

// PayloadError describes why a payload was rejected.
type PayloadError struct {
	// Location is a JSON pointer into the payload, "" for the root.
	Location string
	Detail   string
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidPayload, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidPayload, e.Location, e.Detail)
}

// Is matches ErrInvalidPayload.
func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// Message is the client facing description.
func (e *PayloadError) Message() string {
	if e.Location == "" {
		return e.Detail
	}
	return e.Location + ": " + e.Detail
}
