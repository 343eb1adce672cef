package scribe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/llm"
)

// mockGenerator returns a canned reply and records the last request.
type mockGenerator struct {
	reply string
	err   error
	last  llm.Request
	calls int
}

func (m *mockGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	m.calls++
	m.last = req
	return m.reply, m.err
}

func newTestService(gen llm.Generator) *Service {
	return NewService(gen, hipaa.NewRedactor(hipaa.RedactorConfig{Enabled: true}), nil, zerolog.Nop())
}

const jsonReply = `Here is the note:
{"chief_complaint":"Headache for three days","history_of_present_illness":"Throbbing right-sided headache with photophobia.",
"review_of_systems":"Positive for nausea.","physical_exam":"BP 130/85. Pupils equal and reactive.",
"assessment":"Migraine without aura","plan":["Sumatriptan as needed","Sleep hygiene"],
"icd10_codes":["G43.909"],"cpt_codes":[{"code":"99213"}],"follow_up":"Two weeks"}`

func TestGenerateSOAPNote_JSONReply(t *testing.T) {
	gen := &mockGenerator{reply: jsonReply}
	note, err := newTestService(gen).GenerateSOAPNote(context.Background(), "Doctor: what brings you in?")
	if err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	if note.ChiefComplaint != "Headache for three days" {
		t.Errorf("chief complaint = %q", note.ChiefComplaint)
	}
	if note.Plan != "Sumatriptan as needed\nSleep hygiene" {
		t.Errorf("plan = %q", note.Plan)
	}
	if len(note.ICD10Codes) != 1 || note.ICD10Codes[0] != "G43.909" {
		t.Errorf("icd10 = %v", note.ICD10Codes)
	}
	if len(note.CPTCodes) != 1 || note.CPTCodes[0] != "99213" {
		t.Errorf("cpt = %v", note.CPTCodes)
	}
	if note.ManualReviewRequired {
		t.Error("complete note should not need manual review")
	}
	if !strings.HasPrefix(note.EncounterID, "ENC-") {
		t.Errorf("encounter id = %q", note.EncounterID)
	}
	if !strings.Contains(gen.last.Prompt, "what brings you in") {
		t.Error("transcript not passed to the model")
	}
}

const textReply = `1. CHIEF COMPLAINT: Sinus pressure
2. HISTORY OF PRESENT ILLNESS: Ten days of congestion.
3. REVIEW OF SYSTEMS: Negative for fever.
4. PHYSICAL EXAM: Maxillary tenderness.
5. ASSESSMENT: Acute sinusitis
6. PLAN: Amoxicillin 500 mg three times daily.
7. ICD-10 CODES: J01.90 (acute sinusitis, unspecified)
8. CPT CODES: 99213
9. FOLLOW-UP: Return if not improved in one week.`

func TestGenerateSOAPNote_TextFallback(t *testing.T) {
	note, err := newTestService(&mockGenerator{reply: textReply}).GenerateSOAPNote(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	checks := map[string]string{
		"chief_complaint": note.ChiefComplaint,
		"hpi":             note.HistoryOfPresentIllness,
		"ros":             note.ReviewOfSystems,
		"exam":            note.PhysicalExam,
		"assessment":      note.Assessment,
		"plan":            note.Plan,
		"follow_up":       note.FollowUp,
	}
	want := map[string]string{
		"chief_complaint": "Sinus pressure",
		"hpi":             "Ten days of congestion.",
		"ros":             "Negative for fever.",
		"exam":            "Maxillary tenderness.",
		"assessment":      "Acute sinusitis",
		"plan":            "Amoxicillin 500 mg three times daily.",
		"follow_up":       "Return if not improved in one week.",
	}
	for k, w := range want {
		if checks[k] != w {
			t.Errorf("%s = %q, want %q", k, checks[k], w)
		}
	}
	if len(note.ICD10Codes) != 1 || note.ICD10Codes[0] != "J01.90" {
		t.Errorf("icd10 = %v", note.ICD10Codes)
	}
	if len(note.CPTCodes) != 1 || note.CPTCodes[0] != "99213" {
		t.Errorf("cpt = %v", note.CPTCodes)
	}
}

func TestGenerateSOAPNote_MalformedJSONFallsBackToText(t *testing.T) {
	reply := "CHIEF COMPLAINT: Cough {not json}\nPLAN: Rest"
	note, err := newTestService(&mockGenerator{reply: reply}).GenerateSOAPNote(context.Background(), "t")
	if err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	if note.ChiefComplaint != "Cough {not json}" || note.Plan != "Rest" {
		t.Errorf("unexpected note: %+v", note)
	}
}

func TestGenerateSOAPNote_LLMFailureReturnsPlaceholder(t *testing.T) {
	transcript := strings.Repeat("é", 600)
	note, err := newTestService(&mockGenerator{err: llm.ErrLLMUnavailable}).GenerateSOAPNote(context.Background(), transcript)
	if err != nil {
		t.Fatalf("expected placeholder, got error %v", err)
	}
	if note.ChiefComplaint != PlaceholderComplaint {
		t.Errorf("chief complaint = %q", note.ChiefComplaint)
	}
	if !note.ManualReviewRequired {
		t.Error("placeholder must be flagged for manual review")
	}
	if n := len([]rune(note.HistoryOfPresentIllness)); n != 500 {
		t.Errorf("expected 500-rune HPI, got %d", n)
	}
	if note.ICD10Codes == nil || note.CPTCodes == nil {
		t.Error("code lists must be non-nil")
	}
}

func TestGenerateSOAPNote_UnstructuredReplyNeedsReview(t *testing.T) {
	note, err := newTestService(&mockGenerator{reply: "I cannot help with that."}).GenerateSOAPNote(context.Background(), "t")
	if err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	if !note.ManualReviewRequired {
		t.Error("note without sections should be flagged for review")
	}
}

func TestGenerateSOAPNote_EmptyTranscript(t *testing.T) {
	gen := &mockGenerator{}
	_, err := newTestService(gen).GenerateSOAPNote(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if gen.calls != 0 {
		t.Error("model should not be called for an empty transcript")
	}
}

func TestGenerateSOAPNote_Audited(t *testing.T) {
	store := &memStore{}
	r := hipaa.NewRedactor(hipaa.RedactorConfig{Enabled: true})
	svc := NewService(&mockGenerator{reply: jsonReply}, r, hipaa.NewAuditLogger(store, r, "s"), zerolog.Nop())

	if _, err := svc.GenerateSOAPNote(context.Background(), "t"); err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	if len(store.events) != 1 || store.events[0].EventType != hipaa.EventSOAPNoteGenerated {
		t.Fatalf("expected one soap_note_generated event, got %+v", store.events)
	}
}

func TestGenerateAVS_RedactsOutput(t *testing.T) {
	gen := &mockGenerator{reply: "Call us at 555-123-4567 if symptoms worsen."}
	note := &ClinicalNote{EncounterID: "ENC-1", Assessment: "Sinusitis", Plan: "Rest"}

	avs, err := newTestService(gen).GenerateAVS(context.Background(), note, "sp", "")
	if err != nil {
		t.Fatalf("GenerateAVS: %v", err)
	}
	if strings.Contains(avs.Text, "555-123-4567") {
		t.Errorf("phone number leaked: %q", avs.Text)
	}
	if avs.Language != "Spanish" || avs.ReadingLevel != "6th grade" {
		t.Errorf("unexpected language/level: %s / %s", avs.Language, avs.ReadingLevel)
	}
	if !strings.Contains(gen.last.Prompt, "Language: Spanish") {
		t.Error("language not passed to the model")
	}
}

func TestGenerateSOAPNote_PromptIsRedacted(t *testing.T) {
	gen := &mockGenerator{reply: jsonReply}
	transcript := "Patient: my name is Jane Doe, SSN 123-45-6789, call me at 555-123-4567."
	if _, err := newTestService(gen).GenerateSOAPNote(context.Background(), transcript); err != nil {
		t.Fatalf("GenerateSOAPNote: %v", err)
	}
	for _, phi := range []string{"Jane Doe", "123-45-6789", "555-123-4567"} {
		if strings.Contains(gen.last.Prompt, phi) {
			t.Errorf("prompt sent to the model contains %q: %q", phi, gen.last.Prompt)
		}
	}
	if !strings.HasPrefix(gen.last.Prompt, "CONVERSATION:\n") {
		t.Errorf("unexpected prompt shape: %q", gen.last.Prompt)
	}
}

func TestGenerateAVS_PromptIsRedacted(t *testing.T) {
	gen := &mockGenerator{reply: "Rest and drink fluids."}
	note := &ClinicalNote{
		EncounterID: "ENC-2",
		Assessment:  "Bronchitis. Patient name is John Smith",
		Plan:        "Pharmacy will call 502-555-0100",
		FollowUp:    "Email john.smith@example.com with questions",
	}
	if _, err := newTestService(gen).GenerateAVS(context.Background(), note, "en", ""); err != nil {
		t.Fatalf("GenerateAVS: %v", err)
	}
	for _, phi := range []string{"John Smith", "502-555-0100", "john.smith@example.com"} {
		if strings.Contains(gen.last.Prompt, phi) {
			t.Errorf("prompt sent to the model contains %q: %q", phi, gen.last.Prompt)
		}
	}
	if !strings.Contains(gen.last.Prompt, "Bronchitis") {
		t.Errorf("clinical content dropped from prompt: %q", gen.last.Prompt)
	}
}

func TestGenerateAVS_LLMUnavailable(t *testing.T) {
	_, err := newTestService(&mockGenerator{err: llm.ErrLLMUnavailable}).GenerateAVS(context.Background(), &ClinicalNote{}, "en", "")
	if !errors.Is(err, llm.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestLanguageName(t *testing.T) {
	tests := map[string]string{"sp": "Spanish", "es": "Spanish", "en": "English", "": "English", "ch": "Chinese", "tagalog": "tagalog"}
	for in, want := range tests {
		if got := LanguageName(in); got != want {
			t.Errorf("LanguageName(%q) = %q, want %q", in, got, want)
		}
	}
}
