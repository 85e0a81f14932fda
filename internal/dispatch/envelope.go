package dispatch

import (
	"maps"

	"github.com/vyrodovalexey/edgegw/internal/auth"
)

// Identity keys added to every authenticated payload.
const (
	KeyUserID   = "userId"
	KeyRole     = "role"
	KeyRawToken = "rawToken"
)

// Envelope is the command sent to a backend channel.
type Envelope struct {
	Cmd     string
	Channel string
	Payload map[string]any
}

// BuildEnvelope merges body, path params and identity into a new payload.
// Path params overwrite body keys and identity keys overwrite both. A nil
// identity, as on public routes, adds no identity keys. Inputs are not
// modified.
func BuildEnvelope(cmd, channel string, identity *auth.Identity, body map[string]any, params map[string]string) *Envelope {
	payload := make(map[string]any, len(body)+len(params)+3)
	maps.Copy(payload, body)
	for k, v := range params {
		payload[k] = v
	}
	if identity != nil {
		payload[KeyUserID] = identity.UserID
		payload[KeyRole] = identity.Role.String()
		payload[KeyRawToken] = identity.RawToken
	}
	return &Envelope{Cmd: cmd, Channel: channel, Payload: payload}
}
