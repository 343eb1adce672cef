package voice

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/caller"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/office"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scheduling"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scribe"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/llm"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinical := auth.RequireRole(auth.RolePhysician, auth.RoleNurse)
	api.POST("/intents/route", h.Route, clinical)
	api.POST("/voice/commands", h.Command, clinical)
	api.POST("/voice/actions", h.Action, auth.RequireRole(auth.RoleFrontDesk, auth.RoleNurse, auth.RolePhysician))
}

type RouteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) Route(c echo.Context) error {
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Route(c.Request().Context(), req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Command(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.HandleCommand(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	if resp.Status == StatusConfirmationRequired {
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Action(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.HandleAction(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyCommand), errors.Is(err, ErrPatientRequired),
		errors.Is(err, ErrTranscriptRequired), errors.Is(err, ErrNoteRequired),
		errors.Is(err, scribe.ErrEmptyTranscript),
		errors.Is(err, ErrUnknownAction), errors.Is(err, ErrInvalidActionArgs),
		errors.Is(err, caller.ErrIncompleteIdentity), errors.Is(err, caller.ErrInvalidDate),
		errors.Is(err, scheduling.ErrMissingAppointmentID), errors.Is(err, scheduling.ErrUnknownAppointmentType),
		errors.Is(err, scheduling.ErrInvalidDate), errors.Is(err, scheduling.ErrInvalidTime),
		errors.Is(err, scheduling.ErrPastDate),
		errors.Is(err, office.ErrEmptyMessage), errors.Is(err, office.ErrInvalidUrgency):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduling.ErrWrongPatient):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, caller.ErrSessionNotFound), errors.Is(err, scheduling.ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, fhirclient.ErrPatientNotFound), errors.Is(err, fhirclient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrChartUnavailable), errors.Is(err, llm.ErrLLMUnavailable),
		errors.Is(err, ErrDeskUnavailable), errors.Is(err, office.ErrMessagingUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}
