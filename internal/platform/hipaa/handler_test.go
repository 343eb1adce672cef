package hipaa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *AuditLogger) {
	audit, _ := newTestAuditLogger()
	return NewHandler(NewRedactor(RedactorConfig{Enabled: true}), audit), audit
}

func postJSON(body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Redact_Text(t *testing.T) {
	h, _ := newTestHandler()
	c, rec := postJSON(`{"text":"caller ssn 123-45-6789"}`)

	if err := h.Redact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if strings.Contains(resp["text"].(string), "123-45-6789") {
		t.Errorf("SSN leaked: %v", resp["text"])
	}
	if resp["phi_detected"] != true {
		t.Errorf("expected phi_detected true, got %v", resp["phi_detected"])
	}
}

func TestHandler_Redact_Data(t *testing.T) {
	h, _ := newTestHandler()
	c, rec := postJSON(`{"data":{"patient_name":"John Smith","intent":"OrderLabs"}}`)

	if err := h.Redact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Data["patient_name"] == "John Smith" {
		t.Error("patient_name should be masked")
	}
	if resp.Data["intent"] != "OrderLabs" {
		t.Errorf("non-PHI field changed: %v", resp.Data["intent"])
	}
}

func TestHandler_Redact_EmptyBody(t *testing.T) {
	h, _ := newTestHandler()
	c, _ := postJSON(`{}`)

	err := h.Redact(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandler_Detect_ReturnsSpansOnly(t *testing.T) {
	h, _ := newTestHandler()
	c, rec := postJSON(`{"text":"ssn 123-45-6789"}`)

	if err := h.Detect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "123-45-6789") {
		t.Error("detect response must not echo the matched value")
	}
	var resp struct {
		Detections []Detection `json:"detections"`
		Count      int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Count == 0 || len(resp.Detections) != resp.Count {
		t.Errorf("expected detections, got %+v", resp)
	}
}

func TestHandler_Detect_NoPHI(t *testing.T) {
	h, _ := newTestHandler()
	c, rec := postJSON(`{"text":"order a cbc"}`)

	if err := h.Detect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"detections":[]`) {
		t.Errorf("expected empty detections array, got %s", rec.Body.String())
	}
}

func TestHandler_SearchEvents(t *testing.T) {
	h, audit := newTestHandler()
	for i := 0; i < 3; i++ {
		if err := audit.LogEvent(context.Background(), NewEvent(EventIntentRouted, "dr-a", "route")); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	if err := audit.LogEvent(context.Background(), NewEvent(EventVoiceCommand, "dr-b", "route")); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?event_type=intent_routed&limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SearchEvents(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []AuditEvent `json:"data"`
		Total   int          `json:"total"`
		HasMore bool         `json:"has_more"`
		Next    string       `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
	if resp.Next != "/api/v1/audit/events?event_type=intent_routed&limit=2&offset=2" {
		t.Errorf("unexpected next link %q", resp.Next)
	}
}

func TestHandler_SearchEvents_BadLimit(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?limit=-3", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())

	err := h.SearchEvents(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandler_SearchEvents_BadSince(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?since=yesterday", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.SearchEvents(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandler_VerifyEvent(t *testing.T) {
	h, audit := newTestHandler()
	ev := NewEvent(EventPHIAccess, "dr-a", "read")
	if err := audit.LogEvent(context.Background(), ev); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(ev.ID.String())

	if err := h.VerifyEvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Errorf("expected valid checksum, got %s", rec.Body.String())
	}
}

func TestHandler_GetEvent_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	err := h.GetEvent(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestHandler_GetEvent_InvalidID(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetEvent(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}
