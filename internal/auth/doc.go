// Package auth implements the authentication stage of the gateway.
//
// A call arrives either as an HTTP request or as a broker message. Both are
// wrapped in a Carrier so that a single Authenticator handles them:
//
//	identity, err := authenticator.Authenticate(ctx, auth.NewHTTPCarrier(c))
//	if errors.Is(err, auth.ErrUnauthenticated) {
//	    // 401
//	}
//
// Authentication verifies the bearer credential with a Verifier (see
// package idtoken), reads the caller's role from a Resolver (see package
// userstore) and attaches the resulting Identity to the carrier. The role
// is resolved on every call and never cached.
//
// Failures are reported uniformly: the specific reason is visible to
// logs and metrics through *Error, while callers only distinguish
// ErrUnauthenticated.
package auth
