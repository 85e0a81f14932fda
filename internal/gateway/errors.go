package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/authz"
	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/dispatch"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

// Client facing messages.
const (
	MsgUnauthenticated = "authentication failed"
	MsgForbidden       = "access denied"
	MsgUnknownCommand  = "unknown command"
	MsgUpstreamTimeout = "upstream timeout"
	MsgUpstreamDown    = "upstream unavailable"
	MsgBodyTooLarge    = "request body too large"
	MsgInternal        = "internal error"
)

// StatusFor maps a pipeline error to a status code and message. The
// message never carries credentials or internal causes; backend messages
// are passed through verbatim.
func StatusFor(err error) (int, string) {
	var (
		payloadErr *route.PayloadError
		remoteErr  *broker.RemoteError
		maxBytes   *http.MaxBytesError
	)

	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, MsgUnauthenticated
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden, MsgForbidden
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, MsgBodyTooLarge
	case errors.As(err, &payloadErr):
		return http.StatusBadRequest, payloadErr.Message()
	case errors.Is(err, route.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, route.ErrUnknownCommand):
		return http.StatusNotFound, MsgUnknownCommand
	case errors.As(err, &remoteErr):
		status := remoteErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, remoteErr.Message
	case errors.Is(err, dispatch.ErrUpstreamUnavailable) && errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, MsgUpstreamTimeout
	case errors.Is(err, dispatch.ErrUpstreamUnavailable):
		return http.StatusBadGateway, MsgUpstreamDown
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}
