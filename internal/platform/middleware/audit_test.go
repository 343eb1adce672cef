package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
)

type mockRecorder struct {
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.entries = append(m.entries, entry)
	return m.err
}

// routedContext builds a context as if the router had matched route.
func routedContext(method, target, route string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "dr-lee", []string{auth.RolePhysician}, ""))
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetPath(route)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(append(c.ParamNames(), params[i])...)
		c.SetParamValues(append(c.ParamValues(), params[i+1])...)
	}
	c.Set("request_id", "req-1")
	return c, rec
}

func TestAudit_Entries(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		route      string
		params     []string
		handlerErr error
		want       AuditEntry
	}{
		{
			name:   "history by path param",
			method: http.MethodGet, target: "/api/v1/eligibility/history/pat-42",
			route: "/api/v1/eligibility/history/:patient_id", params: []string{"patient_id", "pat-42"},
			want: AuditEntry{Resource: "eligibility", Action: "read", PatientRef: "Patient/pat-42", Status: http.StatusOK},
		},
		{
			name:   "appointments by query",
			method: http.MethodGet, target: "/api/v1/scheduling/appointments?patient_id=Patient/abc",
			route: "/api/v1/scheduling/appointments",
			want:  AuditEntry{Resource: "scheduling", Action: "read", PatientRef: "Patient/abc", Status: http.StatusOK},
		},
		{
			name:   "voice command",
			method: http.MethodPost, target: "/api/v1/voice/commands",
			route: "/api/v1/voice/commands",
			want:  AuditEntry{Resource: "voice", Action: "create", Status: http.StatusOK},
		},
		{
			name:   "forbidden cancel",
			method: http.MethodPost, target: "/api/v1/scheduling/appointments/a1/cancel",
			route: "/api/v1/scheduling/appointments/:id/cancel", params: []string{"id", "a1"},
			handlerErr: echo.NewHTTPError(http.StatusForbidden),
			want:       AuditEntry{Resource: "scheduling", Action: "create", Status: http.StatusForbidden},
		},
		{
			name:   "llm outage",
			method: http.MethodPost, target: "/api/v1/scribe/avs",
			route: "/api/v1/scribe/avs", handlerErr: errors.New("llm: upstream closed"),
			want: AuditEntry{Resource: "scribe", Action: "create", Status: http.StatusInternalServerError},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			c, _ := routedContext(tt.method, tt.target, tt.route, tt.params...)
			err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
				if tt.handlerErr != nil {
					return tt.handlerErr
				}
				return c.NoContent(http.StatusOK)
			})(c)
			if err != tt.handlerErr {
				t.Fatalf("handler error not propagated: %v", err)
			}
			if len(rec.entries) != 1 {
				t.Fatalf("expected one entry, got %d", len(rec.entries))
			}
			got := rec.entries[0]
			if got.Resource != tt.want.Resource || got.Action != tt.want.Action ||
				got.PatientRef != tt.want.PatientRef || got.Status != tt.want.Status {
				t.Errorf("entry = %+v, want %+v", got, tt.want)
			}
			if got.UserID != "dr-lee" || got.RequestID != "req-1" || got.Route != tt.route {
				t.Errorf("identity or route missing: %+v", got)
			}
		})
	}
}

func TestAudit_SkipsInfrastructure(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/health/db"} {
		c, _ := routedContext(http.MethodGet, path, path)
		if err := Audit(zerolog.Nop(), rec)(func(echo.Context) error { return nil })(c); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(rec.entries))
	}
}

func TestAudit_RecorderFailureIsLoggedOnly(t *testing.T) {
	var logs bytes.Buffer
	rec := &mockRecorder{err: errors.New("db down")}
	c, httpRec := routedContext(http.MethodGet, "/api/v1/eligibility/history/pat-9", "/api/v1/eligibility/history/:patient_id",
		"patient_id", "pat-9")

	if err := Audit(zerolog.New(&logs), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c); err != nil {
		t.Fatalf("recorder failure should not fail the request: %v", err)
	}
	if httpRec.Code != http.StatusOK || !strings.Contains(logs.String(), "failed to record access") {
		t.Errorf("status %d, logs %s", httpRec.Code, logs.String())
	}
	if strings.Contains(logs.String(), "pat-9") {
		t.Errorf("patient id leaked into log: %s", logs.String())
	}
}
