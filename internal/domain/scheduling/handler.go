package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scheduling", auth.RequireRole(auth.RoleFrontDesk, auth.RoleNurse, auth.RolePhysician))
	g.GET("/appointment-types", h.Types)
	g.GET("/slots", h.SearchSlots)
	g.POST("/appointments", h.Book)
	g.GET("/appointments", h.List)
	g.GET("/appointments/:id", h.Get)
	g.POST("/appointments/:id/cancel", h.Cancel)
}

func (h *Handler) Types(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"appointment_types": AppointmentTypes()})
}

// SearchSlots handles GET /scheduling/slots?date=&appointment_type=.
func (h *Handler) SearchSlots(c echo.Context) error {
	p := SlotSearchParams{
		Date:            c.QueryParam("date"),
		AppointmentType: c.QueryParam("appointment_type"),
		ProviderID:      c.QueryParam("provider_id"),
	}
	if p.Date == "" || p.AppointmentType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date and appointment_type are required")
	}
	if v := c.QueryParam("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid max")
		}
		p.Max = n
	}
	slots, err := h.svc.FindSlots(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"slots": slots})
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conf, err := h.svc.BookAppointment(c.Request().Context(), req)
	var unavailable *SlotUnavailableError
	if errors.As(err, &unavailable) {
		return c.JSON(http.StatusConflict, map[string]any{
			"message":      "Requested time not available",
			"alternatives": unavailable.Alternatives,
		})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conf)
}

func (h *Handler) List(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	limit, err := pagination.Limit(c, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appts, err := h.svc.ListPatientAppointments(c.Request().Context(), patientID, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"appointments": appts})
}

func (h *Handler) Get(c echo.Context) error {
	conf, err := h.svc.GetAppointment(c.Request().Context(), c.Param("id"), c.QueryParam("patient_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conf)
}

type CancelRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conf, err := h.svc.CancelAppointment(c.Request().Context(), c.Param("id"), req.PatientID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conf)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrMissingPatientID), errors.Is(err, ErrMissingAppointmentID),
		errors.Is(err, ErrUnknownAppointmentType), errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidTime), errors.Is(err, ErrPastDate):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrWrongPatient):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotNotFree):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}
