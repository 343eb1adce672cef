package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValue = 8 << 10

var markupInQuery = regexp.MustCompile(`(?i)<\s*script|javascript\s*:|\bon[a-z]+\s*=`)

// Sanitize rejects requests carrying traversal sequences, control bytes or
// markup in the path, headers or query string. The API takes JSON
// bodies and a handful of id and date parameters, so none of these have a
// legitimate use. Rejections are logged by route only; query values may hold
// patient identifiers.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := inspect(c.Request()); reason != "" {
				logger.Warn().
					Str("reason", reason).
					Str("route", c.Path()).
					Str("request_id", c.Response().Header().Get(RequestIDHeader)).
					Msg("request rejected by sanitizer")
				return errorResponse(c, http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

func inspect(req *http.Request) string {
	for _, p := range []string{req.URL.Path, req.URL.RawPath} {
		lower := strings.ToLower(p)
		if strings.Contains(p, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e") {
			return "path traversal"
		}
		if strings.ContainsRune(p, 0) || strings.Contains(lower, "%00") {
			return "NUL byte in path"
		}
	}
	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValue {
				return "oversized header " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "line break in header " + name
			}
		}
	}
	for key, values := range req.URL.Query() {
		for _, v := range append(values, key) {
			if strings.IndexFunc(v, unicode.IsControl) >= 0 {
				return "control character in query"
			}
			if markupInQuery.MatchString(v) {
				return "markup in query"
			}
		}
	}
	return ""
}

// invisible reports runes with no spoken meaning that speech-to-text output
// sometimes contains.
func invisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return unicode.IsControl(r)
}

// CleanUtterance normalizes one spoken command before it is routed: control
// and zero-width characters are dropped and every run of whitespace, line
// breaks included, becomes a single space.
func CleanUtterance(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if invisible(r) {
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
