package hipaa

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/pkg/pagination"
)

// Handler serves the PHI utility endpoints and the audit trail.
type Handler struct {
	redactor *Redactor
	audit    *AuditLogger
}

func NewHandler(redactor *Redactor, audit *AuditLogger) *Handler {
	return &Handler{redactor: redactor, audit: audit}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	phi := api.Group("/phi")
	phi.POST("/redact", h.Redact)
	phi.POST("/detect", h.Detect)

	audit := api.Group("/audit", auth.RequireRole(auth.RoleAdmin))
	audit.GET("/events", h.SearchEvents)
	audit.GET("/events/:id", h.GetEvent)
	audit.GET("/events/:id/verify", h.VerifyEvent)
}

// RedactRequest carries either free text or an arbitrary JSON value.
type RedactRequest struct {
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Redact handles POST /api/v1/phi/redact.
func (h *Handler) Redact(c echo.Context) error {
	var req RedactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Data) > 0 {
		var v any
		if err := json.Unmarshal(req.Data, &v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "data must be valid JSON")
		}
		return c.JSON(http.StatusOK, echo.Map{"data": h.redactor.RedactValue(v)})
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text or data is required")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"text":         h.redactor.RedactString(req.Text),
		"phi_detected": h.redactor.ContainsPHI(req.Text),
	})
}

// Detect handles POST /api/v1/phi/detect. Only spans are returned, never the
// matched values.
func (h *Handler) Detect(c echo.Context) error {
	var req RedactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	detections := h.redactor.DetectPHI(req.Text)
	if detections == nil {
		detections = []Detection{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"detections": detections,
		"count":      len(detections),
	})
}

// SearchEvents handles GET /api/v1/audit/events.
func (h *Handler) SearchEvents(c echo.Context) error {
	pg, err := pagination.Parse(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	filter := AuditFilter{
		EventType:  c.QueryParam("event_type"),
		ActorID:    c.QueryParam("actor_id"),
		PatientRef: c.QueryParam("patient_ref"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	if filter.Since, err = parseTimeParam(c.QueryParam("since")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
	}
	if filter.Until, err = parseTimeParam(c.QueryParam("until")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "until must be RFC 3339")
	}

	events, total, err := h.audit.Search(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audit search failed")
	}
	return c.JSON(http.StatusOK, pagination.NewPage(events, total, pg, c.Request().URL.Path, c.QueryParams()))
}

// GetEvent handles GET /api/v1/audit/events/:id.
func (h *Handler) GetEvent(c echo.Context) error {
	ev, err := h.loadEvent(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ev)
}

// VerifyEvent handles GET /api/v1/audit/events/:id/verify.
func (h *Handler) VerifyEvent(c echo.Context) error {
	ev, err := h.loadEvent(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":    ev.ID,
		"valid": h.audit.VerifyChecksum(ev),
	})
}

func (h *Handler) loadEvent(c echo.Context) (*AuditEvent, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ev, err := h.audit.Get(c.Request().Context(), id)
	if errors.Is(err, ErrAuditEventNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "audit lookup failed")
	}
	return ev, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
