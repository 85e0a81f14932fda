package inbound

import (
	"encoding/json"
	"maps"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/broker"
)

// Message is a command pushed onto the inbound queue by a client.
type Message struct {
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Data    json.RawMessage `json:"data,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
}

// ReplyError is the "err" member of an error reply.
type ReplyError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func successReply(id string, resp json.RawMessage) *broker.Reply {
	if len(resp) == 0 {
		resp = json.RawMessage("null")
	}
	return &broker.Reply{ID: id, Response: resp, IsDisposed: true}
}

func errorReply(id string, status int, message string) *broker.Reply {
	// Marshalling a struct of an int and a string cannot fail.
	raw, _ := json.Marshal(ReplyError{Status: status, Message: message})
	return &broker.Reply{ID: id, Err: raw, IsDisposed: true}
}

// predicateAttrs exposes the string members of data to route predicates.
// The credential is never exposed.
func predicateAttrs(data map[string]any) map[string]any {
	attrs := make(map[string]any, len(data))
	maps.Copy(attrs, data)
	maps.DeleteFunc(attrs, func(k string, v any) bool {
		_, isString := v.(string)
		return !isString || k == auth.MessageTokenKey || k == auth.MessageUserKey
	})
	return attrs
}
