package hipaa

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
)

// RetentionHandler exposes the retention policies to administrators.
type RetentionHandler struct {
	svc *RetentionService
}

func NewRetentionHandler(svc *RetentionService) *RetentionHandler {
	return &RetentionHandler{svc: svc}
}

func (h *RetentionHandler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/admin/retention", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/policies", h.ListPolicies)
	admin.GET("/policies/:type", h.GetPolicy)
	admin.GET("/policies/:type/status", h.Status)
	admin.POST("/purge", h.Purge)
}

// policyView adds the cutoff a purge run started now would use.
type policyView struct {
	RetentionPolicy
	PurgeCutoff *time.Time `json:"purge_cutoff,omitempty"`
}

func (h *RetentionHandler) view(p RetentionPolicy) policyView {
	v := policyView{RetentionPolicy: p}
	if p.PurgeAfter > 0 {
		cut := h.svc.now().UTC().AddDate(0, 0, -p.PurgeAfter)
		v.PurgeCutoff = &cut
	}
	return v
}

func (h *RetentionHandler) ListPolicies(c echo.Context) error {
	policies := h.svc.GetAllPolicies()
	out := make([]policyView, 0, len(policies))
	for _, p := range policies {
		out = append(out, h.view(p))
	}
	return c.JSON(http.StatusOK, echo.Map{"policies": out})
}

func (h *RetentionHandler) GetPolicy(c echo.Context) error {
	p := h.svc.GetPolicy(c.Param("type"))
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no retention policy for "+c.Param("type"))
	}
	return c.JSON(http.StatusOK, h.view(*p))
}

// Status answers where a row created at ?created_at= (RFC 3339) sits in its
// lifecycle.
func (h *RetentionHandler) Status(c echo.Context) error {
	rt := c.Param("type")
	if h.svc.GetPolicy(rt) == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no retention policy for "+rt)
	}
	created, err := time.Parse(time.RFC3339, c.QueryParam("created_at"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "created_at must be an RFC 3339 timestamp")
	}
	return c.JSON(http.StatusOK, h.svc.CheckRetention(rt, created))
}

// Purge runs the scheduled purge now. Any failed resource type turns the
// response into a 500; the per-type results are returned either way.
func (h *RetentionHandler) Purge(c echo.Context) error {
	results := h.svc.PurgeExpired(c.Request().Context())
	code := http.StatusOK
	for _, r := range results {
		if r.Error != "" {
			code = http.StatusInternalServerError
		}
	}
	return c.JSON(code, echo.Map{"results": results})
}
