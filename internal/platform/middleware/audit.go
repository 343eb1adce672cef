package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
)

// AuditEntry is one access to an /api/v1 route. It never holds the raw URL
// or client address.
type AuditEntry struct {
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string // first route segment: voice, scribe, eligibility, ...
	Action     string
	PatientRef string
	Route      string
	Method     string
	Status     int
	At         time.Time
}

// AuditRecorder persists access entries; the server adapts hipaa.AuditLogger
// to it.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

var methodActions = map[string]string{
	http.MethodGet:    "read",
	http.MethodHead:   "read",
	http.MethodPost:   "create",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

// Audit logs every /api/v1 request and hands it to recorder, which may be
// nil. A recorder failure is logged and never fails the request.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/v1/") {
				return next(c)
			}
			err := next(c)

			entry := newAuditEntry(c, err)
			if recorder != nil {
				if rerr := recorder.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", entry.RequestID).Msg("failed to record access")
				}
			}
			logger.Info().
				Str("type", "hipaa_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Bool("patient_context", entry.PatientRef != "").
				Int("status", entry.Status).
				Msg("phi_access")
			return err
		}
	}
}

func newAuditEntry(c echo.Context, err error) AuditEntry {
	ctx := c.Request().Context()
	route := routeOf(c)
	action, ok := methodActions[c.Request().Method]
	if !ok {
		action = "read"
	}
	resource, _, _ := strings.Cut(strings.TrimPrefix(route, "/api/v1/"), "/")
	if resource == "" || route == "unmatched" {
		resource = "unknown"
	}
	return AuditEntry{
		RequestID:  requestID(c),
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   resource,
		Action:     action,
		PatientRef: patientRef(c),
		Route:      route,
		Method:     c.Request().Method,
		Status:     statusOf(c, err),
		At:         time.Now().UTC(),
	}
}

// patientRef reads :patient_id or ?patient_id=. Handlers that take the
// patient in the body write their own audit events.
func patientRef(c echo.Context) string {
	id := c.Param("patient_id")
	if id == "" {
		id = strings.TrimPrefix(c.QueryParam("patient_id"), "Patient/")
	}
	if id == "" {
		return ""
	}
	return "Patient/" + id
}
