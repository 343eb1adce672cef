package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
)

// send issues one voice action as userID ("" for an anonymous caller) and
// returns the status and Retry-After header.
func send(h echo.HandlerFunc, userID string) (int, string) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/voice/actions", nil)
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, []string{auth.RoleFrontDesk}, ""))
	}
	rec := httptest.NewRecorder()
	err := h(echo.New().NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code, rec.Header().Get("Retry-After")
	}
	return rec.Code, rec.Header().Get("Retry-After")
}

func TestRateLimit_BurstThenThrottle(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 3})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		if code, _ := send(h, "desk-1"); code != http.StatusOK {
			t.Fatalf("request %d within burst: status %d", i+1, code)
		}
	}
	code, retry := send(h, "desk-1")
	if code != http.StatusTooManyRequests || retry != "2" {
		t.Errorf("expected 429 with Retry-After 2, got %d / %q", code, retry)
	}

	// Another phone line and an anonymous caller have their own buckets.
	if code, _ := send(h, "desk-2"); code != http.StatusOK {
		t.Errorf("desk-2 throttled by desk-1: %d", code)
	}
	if code, _ := send(h, ""); code != http.StatusOK {
		t.Errorf("anonymous caller throttled by desk-1: %d", code)
	}
}

func TestRetryAfter_ZeroRate(t *testing.T) {
	l := rate.NewLimiter(0, 1)
	l.Allow()
	if ra := retryAfter(l); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestLimiterStore(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxKeys: 2})
	first := store.get("user:a")
	if store.get("user:a") != first {
		t.Fatal("expected the same limiter for a repeat caller")
	}
	store.get("user:b")
	store.get("user:c")
	if store.get("user:a") == first {
		t.Error("expected the least recently used caller to be evicted")
	}
}
