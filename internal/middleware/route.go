package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// RouteKey is the gin context key holding the matched route name.
const RouteKey = "edgegw.route"

// SetRoute names the route serving c.
func SetRoute(c *gin.Context, name string) {
	c.Set(RouteKey, name)
}

// RouteName returns the route name set by SetRoute, or
// observability.UnmatchedRoute.
func RouteName(c *gin.Context) string {
	if name := c.GetString(RouteKey); name != "" {
		return name
	}
	return observability.UnmatchedRoute
}
