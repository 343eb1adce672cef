package hipaa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var retentionNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newRetentionHandler() (*RetentionHandler, *RetentionService) {
	svc := NewRetentionService(DefaultRetentionPolicies(2190), nil, testLogger())
	svc.now = func() time.Time { return retentionNow }
	return NewRetentionHandler(svc), svc
}

func adminContext(method, target string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(method, target, nil), rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return c, rec
}

func TestRetentionHandler_ListPolicies(t *testing.T) {
	h, _ := newRetentionHandler()
	c, rec := adminContext(http.MethodGet, "/api/v1/admin/retention/policies")
	if err := h.ListPolicies(c); err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	var body struct {
		Policies []policyView `json:"policies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Policies) != 2 || body.Policies[0].ResourceType != ResourceAuditEvent {
		t.Fatalf("policies = %+v", body.Policies)
	}
	want := retentionNow.AddDate(0, 0, -2190)
	if cut := body.Policies[0].PurgeCutoff; cut == nil || !cut.Equal(want) {
		t.Errorf("audit purge cutoff = %v, want %v", cut, want)
	}
}

func TestRetentionHandler_GetPolicy(t *testing.T) {
	h, _ := newRetentionHandler()

	c, rec := adminContext(http.MethodGet, "/api/v1/admin/retention/policies/eligibility_check", "type", ResourceEligibilityCheck)
	if err := h.GetPolicy(c); err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"resource_type":"eligibility_check"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	c, _ = adminContext(http.MethodGet, "/api/v1/admin/retention/policies/voice_recording", "type", "voice_recording")
	var he *echo.HTTPError
	if err := h.GetPolicy(c); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestRetentionHandler_Status(t *testing.T) {
	h, _ := newRetentionHandler()
	tests := []struct {
		name      string
		rt        string
		createdAt string
		wantCode  int
		wantState string
	}{
		{"recent audit row", ResourceAuditEvent, "2026-06-01T00:00:00Z", http.StatusOK, RetentionStateActive},
		{"four year old audit row", ResourceAuditEvent, "2022-06-01T00:00:00Z", http.StatusOK, RetentionStateArchiveEligible},
		{"expired eligibility check", ResourceEligibilityCheck, "2018-01-01T00:00:00Z", http.StatusOK, RetentionStatePurgeEligible},
		{"bad timestamp", ResourceAuditEvent, "last tuesday", http.StatusBadRequest, ""},
		{"unknown type", "call_recording", "2026-06-01T00:00:00Z", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := adminContext(http.MethodGet, "/api/v1/admin/retention/policies/"+tt.rt+"/status?created_at="+tt.createdAt, "type", tt.rt)
			err := h.Status(c)
			if tt.wantCode != http.StatusOK {
				var he *echo.HTTPError
				if !errors.As(err, &he) || he.Code != tt.wantCode {
					t.Fatalf("expected %d, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			var st RetentionStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if st.State != tt.wantState {
				t.Errorf("state = %q, want %q", st.State, tt.wantState)
			}
		})
	}
}

func TestRetentionHandler_Purge(t *testing.T) {
	tests := []struct {
		name     string
		failElig bool
		wantCode int
	}{
		{"all purgers succeed", false, http.StatusOK},
		{"one purger fails", true, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc := newRetentionHandler()
			svc.RegisterPurger(ResourceAuditEvent, PurgerFunc(func(context.Context, time.Time) (int64, error) {
				return 7, nil
			}))
			svc.RegisterPurger(ResourceEligibilityCheck, PurgerFunc(func(context.Context, time.Time) (int64, error) {
				if tt.failElig {
					return 0, errors.New("eligibility_check: statement timeout")
				}
				return 2, nil
			}))

			c, rec := adminContext(http.MethodPost, "/api/v1/admin/retention/purge")
			if err := h.Purge(c); err != nil {
				t.Fatalf("Purge: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Results []PurgeResult `json:"results"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Results) != 2 || body.Results[0].Deleted != 7 {
				t.Errorf("results = %+v", body.Results)
			}
		})
	}
}
