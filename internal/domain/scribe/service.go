package scribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/llm"
)

// ErrEmptyTranscript is returned when there is nothing to document.
var ErrEmptyTranscript = errors.New("scribe: transcript is empty")

const soapSystemPrompt = `You are a medical scribe. Convert the doctor-patient conversation into a structured SOAP note.
Reply with a single JSON object with exactly these keys: chief_complaint, history_of_present_illness,
review_of_systems, physical_exam, assessment, plan, icd10_codes, cpt_codes, follow_up.
icd10_codes and cpt_codes are arrays of code strings. Do not invent findings that are not in the conversation.`

const avsSystemPrompt = `You write after-visit summaries for patients. Use plain language at the requested
reading level, in the requested language. Cover the diagnosis, what the patient should do, medications and
when to follow up. Do not include the patient's name, dates of birth, phone numbers or identifiers.`

// placeholderHPIRunes bounds how much transcript is copied into a
// placeholder note.
const placeholderHPIRunes = 500

// Service turns transcripts into notes with the configured model.
type Service struct {
	gen      llm.Generator
	redactor *hipaa.Redactor
	audit    *hipaa.AuditLogger
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a scribe. audit may be nil.
func NewService(gen llm.Generator, redactor *hipaa.Redactor, audit *hipaa.AuditLogger, logger zerolog.Logger) *Service {
	return &Service{
		gen:      gen,
		redactor: redactor,
		audit:    audit,
		logger:   logger.With().Str("component", "scribe").Logger(),
		now:      time.Now,
	}
}

// GenerateSOAPNote prompts the model for a SOAP note built from the redacted
// transcript. When the model is unavailable the note is a placeholder flagged
// for manual review, never an error.
func (s *Service) GenerateSOAPNote(ctx context.Context, transcript string) (*ClinicalNote, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	note := &ClinicalNote{
		EncounterID: "ENC-" + uuid.NewString(),
		Timestamp:   s.now().UTC(),
		ICD10Codes:  []string{},
		CPTCodes:    []string{},
	}

	// The model is outside the trust boundary: it only ever sees redacted text.
	reply, err := s.gen.Generate(ctx, llm.Request{
		System:    soapSystemPrompt,
		Prompt:    "CONVERSATION:\n" + s.redactor.RedactString(transcript),
		MaxTokens: 1500,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("encounter_id", note.EncounterID).Msg("soap note generation failed; returning placeholder")
		note.ChiefComplaint = PlaceholderComplaint
		note.HistoryOfPresentIllness = truncateRunes(transcript, placeholderHPIRunes)
		note.ManualReviewRequired = true
		s.auditNote(ctx, note, hipaa.OutcomeFailure)
		return note, nil
	}

	f := parseReply(reply)
	note.ChiefComplaint = f.ChiefComplaint
	note.HistoryOfPresentIllness = f.HistoryOfPresentIllness
	note.ReviewOfSystems = f.ReviewOfSystems
	note.PhysicalExam = f.PhysicalExam
	note.Assessment = f.Assessment
	note.Plan = f.Plan
	note.FollowUp = f.FollowUp
	if f.ICD10Codes != nil {
		note.ICD10Codes = f.ICD10Codes
	}
	if f.CPTCodes != nil {
		note.CPTCodes = f.CPTCodes
	}
	if note.ChiefComplaint == "" && note.Assessment == "" && note.Plan == "" {
		note.ManualReviewRequired = true
	}

	s.logger.Info().
		Str("encounter_id", note.EncounterID).
		Int("icd10_codes", len(note.ICD10Codes)).
		Int("cpt_codes", len(note.CPTCodes)).
		Bool("manual_review", note.ManualReviewRequired).
		Msg("soap note generated")
	s.auditNote(ctx, note, hipaa.OutcomeSuccess)
	return note, nil
}

// GenerateAVS writes a patient-facing summary of note. The text is redacted
// before it is returned.
func (s *Service) GenerateAVS(ctx context.Context, note *ClinicalNote, language, readingLevel string) (*AfterVisitSummary, error) {
	if note == nil {
		return nil, fmt.Errorf("scribe: avs: note is required")
	}
	lang := LanguageName(language)
	if readingLevel == "" {
		readingLevel = "6th grade"
	}

	prompt := fmt.Sprintf("Language: %s\nReading level: %s\n\nDIAGNOSIS/ASSESSMENT:\n%s\n\nPLAN:\n%s\n\nFOLLOW-UP:\n%s",
		lang, readingLevel,
		s.redactor.RedactString(note.Assessment),
		s.redactor.RedactString(note.Plan),
		s.redactor.RedactString(note.FollowUp))
	reply, err := s.gen.Generate(ctx, llm.Request{System: avsSystemPrompt, Prompt: prompt, MaxTokens: 1200})
	if err != nil {
		return nil, fmt.Errorf("scribe: avs: %w", err)
	}

	avs := &AfterVisitSummary{
		EncounterID:  note.EncounterID,
		Language:     lang,
		ReadingLevel: readingLevel,
		Text:         s.redactor.RedactString(strings.TrimSpace(reply)),
		Generated:    s.now().UTC(),
	}
	if s.audit != nil {
		ev := hipaa.NewEvent(hipaa.EventAVSGenerated, auth.UserIDFromContext(ctx), "create")
		ev.Details = map[string]any{
			"encounter_id":  note.EncounterID,
			"language":      lang,
			"reading_level": readingLevel,
		}
		if err := s.audit.LogEvent(ctx, ev); err != nil {
			s.logger.Error().Err(err).Msg("failed to audit avs generation")
		}
	}
	return avs, nil
}

func (s *Service) auditNote(ctx context.Context, note *ClinicalNote, outcome string) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(hipaa.EventSOAPNoteGenerated, auth.UserIDFromContext(ctx), "create")
	ev.Outcome = outcome
	ev.Details = map[string]any{
		"encounter_id":           note.EncounterID,
		"icd10_codes":            note.ICD10Codes,
		"cpt_codes":              note.CPTCodes,
		"manual_review_required": note.ManualReviewRequired,
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit soap note")
	}
}

// LanguageName expands the short language codes the intent router extracts.
func LanguageName(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "en", "english":
		return "English"
	case "sp", "es", "spanish":
		return "Spanish"
	case "ch", "zh", "chinese":
		return "Chinese"
	case "vi", "vietnamese":
		return "Vietnamese"
	case "fr", "french":
		return "French"
	default:
		return code
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
