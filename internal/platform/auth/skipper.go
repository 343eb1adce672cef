package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Load balancer health checks carry no token.
const (
	healthPath   = "/health"
	healthDBPath = "/health/db"
)

// AuthSkipper lets unauthenticated GET and HEAD requests reach the health
// endpoints. Everything else, including writes to those paths, is checked.
func AuthSkipper(c echo.Context) bool {
	switch c.Request().Method {
	case http.MethodGet, http.MethodHead:
	default:
		return false
	}
	return IsPublicPath(c.Path()) || IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return path == healthPath || path == healthDBPath
}
