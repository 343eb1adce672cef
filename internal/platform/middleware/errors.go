package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// errorResponse writes the same {"message": ...} shape echo's default error
// handler produces, for middleware that must answer before a handler runs.
func errorResponse(c echo.Context, status int, msg string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, echo.Map{"message": msg})
}

// statusOf is the status the client will see. A returned error has not been
// rendered yet when middleware inspects it, so the response still says 200.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// routeOf is the matched route template. Raw paths can carry patient ids,
// so unmatched requests are reported by a fixed label.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
