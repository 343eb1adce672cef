package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const healthPingTimeout = 3 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// poolUsage is what /health/db reports about the audit store's pool.
type poolUsage struct {
	Open    int32  `json:"open"`
	InUse   int32  `json:"in_use"`
	Max     int32  `json:"max"`
	Waits   int64  `json:"waits"`
	WaitFor string `json:"wait_total"`
}

func (u poolUsage) saturated() bool { return u.Max > 0 && u.InUse >= u.Max }

func usageOf(pool *pgxpool.Pool) poolUsage {
	s := pool.Stat()
	return poolUsage{
		Open:    s.TotalConns(),
		InUse:   s.AcquiredConns(),
		Max:     s.MaxConns(),
		Waits:   s.EmptyAcquireCount(),
		WaitFor: s.AcquireDuration().Round(time.Millisecond).String(),
	}
}

// HealthHandler reports whether the audit store answers. A reachable store
// whose pool is fully checked out reports "saturated" with a 200 so the load
// balancer keeps routing; an unreachable one is "down" with a 503. Driver
// errors go to the log only since they name the host and role.
func HealthHandler(pool *pgxpool.Pool, logger zerolog.Logger) echo.HandlerFunc {
	return healthHandler(pool, func() poolUsage { return usageOf(pool) }, logger)
}

func healthHandler(p pinger, usage func() poolUsage, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		u := usage()
		if err := p.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("audit store unreachable")
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "down", "pool": u})
		}
		status := "up"
		if u.saturated() {
			status = "saturated"
			logger.Warn().Int32("in_use", u.InUse).Int32("max", u.Max).Msg("audit store pool saturated")
		}
		return c.JSON(http.StatusOK, echo.Map{"status": status, "pool": u})
	}
}
