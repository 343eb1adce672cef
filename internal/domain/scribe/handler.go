package scribe

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/llm"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scribe", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	g.POST("/soap", h.CreateSOAPNote)
	g.POST("/avs", h.CreateAVS)
}

type soapRequest struct {
	Transcript string `json:"transcript"`
}

func (h *Handler) CreateSOAPNote(c echo.Context) error {
	var req soapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	note, err := h.svc.GenerateSOAPNote(c.Request().Context(), req.Transcript)
	if errors.Is(err, ErrEmptyTranscript) {
		return echo.NewHTTPError(http.StatusBadRequest, "transcript is required")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "note generation failed")
	}
	return c.JSON(http.StatusCreated, note)
}

type avsRequest struct {
	Note         *ClinicalNote `json:"note"`
	Language     string        `json:"language"`
	ReadingLevel string        `json:"reading_level"`
}

func (h *Handler) CreateAVS(c echo.Context) error {
	var req avsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Note == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "note is required")
	}
	avs, err := h.svc.GenerateAVS(c.Request().Context(), req.Note, req.Language, req.ReadingLevel)
	if errors.Is(err, llm.ErrLLMUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "summary generation is unavailable")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "summary generation failed")
	}
	return c.JSON(http.StatusCreated, avs)
}
