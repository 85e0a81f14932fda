package auth

import (
	"maps"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Transport names, used as the metric "transport" label.
const (
	TransportHTTP    = "http"
	TransportMessage = "message"
)

// bearerPrefix is matched case-sensitively.
const bearerPrefix = "Bearer "

// Carrier abstracts where a credential comes from and where the verified
// identity goes, so both transports share one authentication path.
type Carrier interface {
	// Transport names the inbound transport.
	Transport() string

	// ExtractCredential returns the raw bearer credential or
	// ErrMissingCredential.
	ExtractCredential() (string, error)

	// AttachIdentity makes the identity visible to later stages.
	AttachIdentity(identity *Identity)
}

// GinIdentityKey is the gin context key holding the *Identity.
const GinIdentityKey = "edgegw.identity"

// HTTPCarrier reads the Authorization header of a gin request.
type HTTPCarrier struct {
	c *gin.Context
}

var _ Carrier = (*HTTPCarrier)(nil)

// NewHTTPCarrier wraps a gin context.
func NewHTTPCarrier(c *gin.Context) *HTTPCarrier {
	return &HTTPCarrier{c: c}
}

// Transport implements Carrier.
func (h *HTTPCarrier) Transport() string {
	return TransportHTTP
}

// ExtractCredential implements Carrier.
func (h *HTTPCarrier) ExtractCredential() (string, error) {
	return BearerToken(h.c.Request.Header)
}

// AttachIdentity stores the identity on the gin context and the request context.
func (h *HTTPCarrier) AttachIdentity(identity *Identity) {
	h.c.Set(GinIdentityKey, identity)
	h.c.Request = h.c.Request.WithContext(ContextWithIdentity(h.c.Request.Context(), identity))
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header http.Header) (string, error) {
	value := header.Get("Authorization")
	if !strings.HasPrefix(value, bearerPrefix) {
		return "", ErrMissingCredential
	}
	token := strings.TrimSpace(value[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// Message payload keys.
const (
	MessageTokenKey = "token"
	MessageUserKey  = "user"
)

// MessageCarrier reads the credential from a decoded message payload.
type MessageCarrier struct {
	data map[string]any
}

var _ Carrier = (*MessageCarrier)(nil)

// NewMessageCarrier wraps a decoded message data object. AttachIdentity
// mutates data.
func NewMessageCarrier(data map[string]any) *MessageCarrier {
	return &MessageCarrier{data: data}
}

// Transport implements Carrier.
func (m *MessageCarrier) Transport() string {
	return TransportMessage
}

// ExtractCredential returns data["token"] when it is a non-empty string.
func (m *MessageCarrier) ExtractCredential() (string, error) {
	if m.data == nil {
		return "", ErrMissingCredential
	}
	token, ok := m.data[MessageTokenKey].(string)
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// AttachIdentity writes data["user"] = {userId, role, email}.
func (m *MessageCarrier) AttachIdentity(identity *Identity) {
	if m.data == nil {
		return
	}
	m.data[MessageUserKey] = identity.Attributes()
}

// Payload returns a copy of the message data without the credential and
// the attached identity. It is the body the message forwards, so an async
// call produces the same envelope as the equivalent HTTP request.
func (m *MessageCarrier) Payload() map[string]any {
	payload := maps.Clone(m.data)
	if payload == nil {
		return map[string]any{}
	}
	delete(payload, MessageTokenKey)
	delete(payload, MessageUserKey)
	return payload
}
