package office

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/office", auth.RequireRole(auth.RoleFrontDesk, auth.RoleNurse, auth.RolePhysician))
	g.GET("/info/:type", h.Info)
	g.POST("/messages", h.LeaveMessage)
}

func (h *Handler) Info(c echo.Context) error {
	infoType := c.Param("type")
	data, err := h.svc.Info(infoType)
	if errors.Is(err, ErrUnknownInfoType) {
		return c.JSON(http.StatusNotFound, map[string]any{
			"message":         err.Error(),
			"available_types": h.svc.InfoTypes(),
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"info_type": infoType, "data": data})
}

func (h *Handler) LeaveMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	receipt, err := h.svc.LeaveMessage(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidUrgency):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMessagingUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}
