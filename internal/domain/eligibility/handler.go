package eligibility

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
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
	read := api.Group("/eligibility", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleBiller, auth.RoleFrontDesk))
	read.POST("/check", h.Check)
	read.GET("/history/:patient_id", h.History)

	billing := api.Group("/eligibility", auth.RequireRole(auth.RoleBiller))
	billing.GET("/metrics", h.Metrics)
	billing.GET("/checks/:id/response", h.RawResponse)
}

type CheckRequest struct {
	PatientID   string `json:"patient_id"`
	ProviderNPI string `json:"provider_npi"`
}

func (h *Handler) Check(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if req.ProviderNPI == "" {
		req.ProviderNPI = auth.NPIFromContext(c.Request().Context())
	}
	res, err := h.svc.Check(c.Request().Context(), req.PatientID, req.ProviderNPI)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) History(c echo.Context) error {
	limit, err := pagination.Limit(c, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.History(c.Request().Context(), c.Param("patient_id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"patient_id": c.Param("patient_id"),
		"checks":     items,
	})
}

func (h *Handler) Metrics(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid days")
		}
		days = n
	}
	if days < 0 || days > maxMetricsDays {
		return echo.NewHTTPError(http.StatusBadRequest, "days must be between 1 and 365")
	}
	m, err := h.svc.Metrics(c.Request().Context(), days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"metrics": m,
		"as_of":   time.Now().UTC(),
	})
}

func (h *Handler) RawResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid check id")
	}
	raw, err := h.svc.RawResponse(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, raw)
}

func httpError(err error) error {
	switch {
	case IsNotFound(err), errors.Is(err, ErrCheckNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidNPI):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEligibilityUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "eligibility service unavailable")
	}
	return err
}
