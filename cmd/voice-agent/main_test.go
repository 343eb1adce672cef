package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/middleware"
)

type memStore struct {
	events []*hipaa.AuditEvent
}

func (m *memStore) Insert(_ context.Context, e *hipaa.AuditEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) Get(context.Context, uuid.UUID) (*hipaa.AuditEvent, error) {
	return nil, hipaa.ErrAuditEventNotFound
}

func (m *memStore) Search(context.Context, hipaa.AuditFilter) ([]*hipaa.AuditEvent, int, error) {
	return m.events, len(m.events), nil
}

func (m *memStore) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestInputText(t *testing.T) {
	got, err := inputText(strings.NewReader("ignored"), []string{"order", "a", "cbc"})
	if err != nil || got != "order a cbc" {
		t.Errorf("args: got %q, %v", got, err)
	}
	got, err = inputText(strings.NewReader("line one\nline two\n"), nil)
	if err != nil || got != "line one\nline two" {
		t.Errorf("stdin: got %q, %v", got, err)
	}
}

func TestRouteCmd(t *testing.T) {
	cmd := routeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"Any", "drug", "allergies?"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if res["intent"] != "CheckAllergies" {
		t.Errorf("expected CheckAllergies, got %v", res["intent"])
	}
}

func TestRedactCmd(t *testing.T) {
	cmd := redactCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--mask", "#", "SSN", "123-45-6789"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "SSN ###########" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRedactCmd_RejectsWordMask(t *testing.T) {
	for _, mask := range []string{"X", "7", "_", "##"} {
		cmd := redactCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--mask", mask, "SSN", "123-45-6789"})
		if err := cmd.Execute(); err == nil {
			t.Errorf("expected mask %q to be rejected", mask)
		}
	}
}

func TestRedactCmd_Detect(t *testing.T) {
	cmd := redactCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--detect", "no phi here"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "[]" {
		t.Errorf("expected empty list, got %q", got)
	}
}

func TestBuildRedactor_PatternFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	yaml := "extra_patterns:\n  - name: room\n    regex: 'ROOM-\\d{3}'\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write patterns: %v", err)
	}
	r, err := buildRedactor(true, "*", path)
	if err != nil {
		t.Fatalf("buildRedactor: %v", err)
	}
	if got := r.RedactString("bed in ROOM-101"); got != "bed in ********" {
		t.Errorf("extra pattern not applied: %q", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("extra_patterns:\n  - name: broken\n    regex: '('\n"), 0o600); err != nil {
		t.Fatalf("write patterns: %v", err)
	}
	if _, err := buildRedactor(true, "*", bad); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestAuditRecorder(t *testing.T) {
	store := &memStore{}
	audit := hipaa.NewAuditLogger(store, hipaa.NewRedactor(hipaa.RedactorConfig{Enabled: true}), "secret")
	rec := auditRecorder(audit, zerolog.Nop())

	if err := rec.RecordAccess(middleware.AuditEntry{UserID: "u1", Route: "/api/v1/eligibility/metrics", Status: 200}); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("entries without a patient should not be persisted, got %d", len(store.events))
	}

	err := rec.RecordAccess(middleware.AuditEntry{
		UserID:     "u1",
		PatientRef: "Patient/p1",
		Action:     "read",
		Resource:   "eligibility",
		Route:      "/api/v1/eligibility/history/:patient_id",
		Method:     "GET",
		Status:     403,
		RequestID:  "req-1",
	})
	if err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one event, got %d", len(store.events))
	}
	ev := store.events[0]
	if ev.EventType != hipaa.EventPHIAccess || ev.PatientRef != "Patient/p1" || ev.Outcome != hipaa.OutcomeDenied {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestMigrationFS(t *testing.T) {
	if _, err := fs.Stat(migrationFS(""), "001_audit_event.sql"); err != nil {
		t.Errorf("built-in migrations missing: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_local.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Stat(migrationFS(dir), "001_local.sql"); err != nil {
		t.Errorf("--dir override not used: %v", err)
	}
}
