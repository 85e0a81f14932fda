package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// Logging returns a middleware that logs one line per HTTP request.
// Query strings and headers are not logged since they may carry
// credentials.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.String("route", RouteName(c)),
			observability.Int("status", c.Writer.Status()),
			observability.Int("size", c.Writer.Size()),
			observability.Duration("duration", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
			observability.String("user_agent", c.Request.UserAgent()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		log := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= 500 {
			log.Warn("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

// Instrument records request metrics labelled by route name.
func Instrument(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncActiveRequests()
		defer metrics.DecActiveRequests()

		c.Next()

		metrics.RecordRequest(c.Request.Method, RouteName(c), c.Writer.Status(), time.Since(start))
	}
}
