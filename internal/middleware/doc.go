// Package middleware provides the gin middleware of the HTTP surface.
//
//   - Recovery: panic recovery with stack trace logging
//   - RequestID: X-Request-ID propagation into the logging context
//   - Logging: structured access logging
//   - Instrument: request count, duration and in-flight metrics
//   - RateLimit: per-client-IP token buckets
//   - BodyLimit: request body size limiting
//
// Route handlers name themselves with SetRoute so that logs and metrics use
// the route name instead of the raw path.
package middleware
