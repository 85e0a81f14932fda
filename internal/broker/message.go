package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable indicates that the broker connection is down.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrClosed indicates a request on a closed client.
	ErrClosed = errors.New("broker client closed")
)

// Pattern names the command a request carries.
type Pattern struct {
	Cmd string `json:"cmd"`
}

// Request is the message pushed onto a backend queue.
type Request struct {
	ID      string         `json:"id"`
	Pattern Pattern        `json:"pattern"`
	Data    map[string]any `json:"data"`
	ReplyTo string         `json:"replyTo"`
}

// Reply is the message a backend pushes onto the reply queue.
type Reply struct {
	ID         string          `json:"id"`
	Response   json.RawMessage `json:"response,omitempty"`
	Err        json.RawMessage `json:"err,omitempty"`
	IsDisposed bool            `json:"isDisposed,omitempty"`
}

// RemoteError is an application error returned by a backend. Status is 0
// when the backend did not provide one.
type RemoteError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Message)
}

// Result splits a reply into its response or its RemoteError.
func (r *Reply) Result() (json.RawMessage, error) {
	if !isNull(r.Err) {
		return nil, ParseRemoteError(r.Err)
	}
	if isNull(r.Response) {
		return json.RawMessage("null"), nil
	}
	return r.Response, nil
}

// ParseRemoteError decodes an err field, which is either a string or an
// object with status/statusCode and message. A message array is joined.
func ParseRemoteError(raw json.RawMessage) *RemoteError {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &RemoteError{Message: s}
	}

	var obj struct {
		Status     json.Number     `json:"status"`
		StatusCode json.Number     `json:"statusCode"`
		Message    json.RawMessage `json:"message"`
		Error      string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &RemoteError{Message: string(raw)}
	}

	re := &RemoteError{Message: decodeMessage(obj.Message)}
	if re.Message == "" {
		re.Message = obj.Error
	}
	for _, n := range []json.Number{obj.Status, obj.StatusCode} {
		if v, err := n.Int64(); err == nil && v >= 100 && v <= 599 {
			re.Status = int(v)
			break
		}
	}
	return re
}

func decodeMessage(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
