package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a deadline. Routes whose path
// starts with a key of byPrefix get that budget instead of def; the longest
// matching prefix wins. Upstream FHIR, Stedi and LLM calls carry the request
// context, so a handler that runs out of time returns a wrapped
// context.DeadlineExceeded, which is answered with 504.
func RequestTimeout(def time.Duration, byPrefix map[string]time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			budget := def
			if d, ok := longestPrefix(byPrefix, c.Request().URL.Path); ok {
				budget = d
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), budget)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errorResponse(c, http.StatusGatewayTimeout, "upstream did not answer in time")
			}
			return err
		}
	}
}
