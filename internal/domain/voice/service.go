package voice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scribe"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/middleware"
)

var (
	ErrTranscriptRequired = errors.New("voice: transcript is required to create a note")
	ErrNoteRequired       = errors.New("voice: note is required to generate a summary")
)

// ChartSource is the FHIR surface voice commands read and write.
type ChartSource interface {
	SearchAllergies(ctx context.Context, patientID string) ([]fhirclient.AllergyIntolerance, error)
	SearchObservations(ctx context.Context, q fhirclient.ObservationQuery) ([]fhirclient.Observation, error)
	CreateMedicationRequest(ctx context.Context, mr *fhirclient.MedicationRequest) (*fhirclient.MedicationRequest, error)
}

// Scribe writes notes and after-visit summaries.
type Scribe interface {
	GenerateSOAPNote(ctx context.Context, transcript string) (*scribe.ClinicalNote, error)
	GenerateAVS(ctx context.Context, note *scribe.ClinicalNote, language, readingLevel string) (*scribe.AfterVisitSummary, error)
}

const (
	defaultLabCount = 10
	labLookbackDays = 30
	maxLabCount     = 50
)

var lastNRe = regexp.MustCompile(`last (\d+) results`)

// Service routes utterances and carries out the resulting actions.
type Service struct {
	router   *intent.Router
	chart    ChartSource
	scribe   Scribe
	desk     FrontDesk
	redactor *hipaa.Redactor
	audit    *hipaa.AuditLogger
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the dispatcher. chart may be nil when no FHIR backend is
// configured; chart commands then fail with ErrChartUnavailable.
func NewService(router *intent.Router, chart ChartSource, sc Scribe, redactor *hipaa.Redactor, audit *hipaa.AuditLogger, logger zerolog.Logger) *Service {
	return &Service{
		router:   router,
		chart:    chart,
		scribe:   sc,
		redactor: redactor,
		audit:    audit,
		logger:   logger.With().Str("component", "voice").Logger(),
		now:      time.Now,
	}
}

// Route classifies text without acting on it.
func (s *Service) Route(ctx context.Context, text string) (intent.Result, error) {
	text = middleware.CleanUtterance(text)
	if text == "" {
		return intent.Result{}, ErrEmptyCommand
	}
	res := s.router.Route(text)
	s.auditRoute(ctx, hipaa.EventIntentRouted, text, "", res, "", hipaa.OutcomeSuccess)
	return res, nil
}

// HandleCommand routes req.Text and dispatches the intent. High-risk
// intents stop at a read-back until the caller resends with Confirmed set.
func (s *Service) HandleCommand(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	text := middleware.CleanUtterance(req.Text)
	if text == "" {
		return nil, ErrEmptyCommand
	}
	routed := s.router.Route(text)

	resp, err := s.dispatch(ctx, req, routed)
	outcome := hipaa.OutcomeSuccess
	status := ""
	switch {
	case err != nil:
		outcome = hipaa.OutcomeFailure
	case resp.Status == StatusConfirmationRequired:
		outcome = hipaa.OutcomePending
		status = resp.Status
	default:
		status = resp.Status
	}
	s.auditRoute(ctx, hipaa.EventVoiceCommand, text, req.PatientID, routed, status, outcome)
	if err != nil {
		s.logger.Warn().Err(err).Str("intent", string(routed.Intent)).Msg("voice command failed")
		return nil, err
	}

	resp.Message = s.redactor.RedactString(resp.Message)
	s.logger.Info().
		Str("intent", string(routed.Intent)).
		Float64("confidence", routed.Confidence).
		Str("status", resp.Status).
		Msg("voice command handled")
	return resp, nil
}

func (s *Service) dispatch(ctx context.Context, req CommandRequest, routed intent.Result) (*CommandResponse, error) {
	resp := &CommandResponse{Routed: routed}

	if routed.RequiresConfirmation && !req.Confirmed {
		resp.Status = StatusConfirmationRequired
		resp.Message = ReadBack(routed)
		return resp, nil
	}

	switch routed.Intent {
	case intent.CheckAllergies:
		return s.checkAllergies(ctx, req.PatientID, resp)
	case intent.RetrieveLabResults:
		e, _ := routed.Entities.(intent.LabResultEntities)
		return s.labResults(ctx, req.PatientID, e, resp)
	case intent.RefillMedication:
		e, _ := routed.Entities.(intent.RefillEntities)
		return s.refill(ctx, req.PatientID, e, resp)
	case intent.CreateSOAPNote:
		if strings.TrimSpace(req.Transcript) == "" {
			return nil, ErrTranscriptRequired
		}
		note, err := s.scribe.GenerateSOAPNote(ctx, req.Transcript)
		if err != nil {
			return nil, err
		}
		resp.Status = StatusCompleted
		resp.Message = "SOAP note drafted."
		if note.ManualReviewRequired {
			resp.Status = StatusProviderReview
			resp.Message = "The note could not be generated automatically and needs manual review."
		}
		resp.Data = note
		return resp, nil
	case intent.GenerateAVS:
		if req.Note == nil {
			return nil, ErrNoteRequired
		}
		e, _ := routed.Entities.(intent.AVSEntities)
		avs, err := s.scribe.GenerateAVS(ctx, req.Note, e.Language, e.ReadingLevel)
		if err != nil {
			return nil, err
		}
		resp.Status = StatusCompleted
		resp.Message = fmt.Sprintf("After-visit summary generated in %s.", avs.Language)
		resp.Data = avs
		return resp, nil
	}

	resp.Status = StatusAcknowledged
	resp.Message = acknowledgement(routed.Intent)
	return resp, nil
}

func acknowledgement(in intent.Intent) string {
	switch in {
	case intent.Unknown:
		return "Sorry, I did not understand that command."
	case intent.OrderLabs:
		return "Lab order confirmed."
	case intent.AddToNoteSection:
		return "Added to the note."
	case intent.NavigateChart:
		return "Opening the chart."
	case intent.CalculateMDM:
		return "Medical decision making will be calculated from the note."
	}
	return "Okay."
}

func (s *Service) checkAllergies(ctx context.Context, patientID string, resp *CommandResponse) (*CommandResponse, error) {
	if err := s.requireChart(patientID); err != nil {
		return nil, err
	}
	allergies, err := s.chart.SearchAllergies(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]AllergySummary, 0, len(allergies))
	names := make([]string, 0, len(allergies))
	for _, a := range allergies {
		sum := AllergySummary{Substance: a.Code.Label(), Criticality: a.Criticality}
		if len(a.Reaction) > 0 && len(a.Reaction[0].Manifestation) > 0 {
			sum.Reaction = a.Reaction[0].Manifestation[0].Label()
		}
		out = append(out, sum)
		names = append(names, sum.Substance)
	}
	resp.Status = StatusCompleted
	resp.Data = out
	if len(out) == 0 {
		resp.Message = "No known allergies on file."
	} else {
		resp.Message = "Allergies on file: " + strings.Join(names, ", ") + "."
	}
	return resp, nil
}

// labResults reads recent results. Values of abnormal results are never
// spoken; the whole set goes to provider review instead.
func (s *Service) labResults(ctx context.Context, patientID string, e intent.LabResultEntities, resp *CommandResponse) (*CommandResponse, error) {
	if err := s.requireChart(patientID); err != nil {
		return nil, err
	}
	q := fhirclient.ObservationQuery{
		PatientID: patientID,
		CodeText:  e.LabName,
		Category:  "laboratory",
		Count:     labCount(e.Timeframe),
	}
	if e.Timeframe == "" {
		q.Since = s.now().AddDate(0, 0, -labLookbackDays)
	}
	obs, err := s.chart.SearchObservations(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		resp.Status = StatusCompleted
		resp.Message = "No recent lab results available."
		resp.Data = []LabSummary{}
		return resp, nil
	}

	results := make([]LabSummary, 0, len(obs))
	abnormal := false
	for _, o := range obs {
		ls := LabSummary{Test: o.Code.Label(), Date: o.EffectiveDateTime, Status: "normal"}
		if ls.Test == "" {
			ls.Test = "Unknown test"
		}
		if o.IsNormal() {
			ls.Value = observationValue(o)
		} else {
			ls.Status = "requires_review"
			abnormal = true
		}
		results = append(results, ls)
	}

	if abnormal {
		resp.Status = StatusProviderReview
		resp.Message = "Some results require provider review."
		for i := range results {
			results[i].Value = ""
		}
		resp.Data = results
		return resp, nil
	}
	resp.Status = StatusCompleted
	resp.Message = "All recent lab results are within normal limits."
	resp.Data = results
	return resp, nil
}

func labCount(timeframe string) int {
	if timeframe == "latest" {
		return 1
	}
	if m := lastNRe.FindStringSubmatch(timeframe); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return min(n, maxLabCount)
		}
	}
	return defaultLabCount
}

func observationValue(o fhirclient.Observation) string {
	if q := o.ValueQuantity; q != nil && q.Value != nil {
		return strings.TrimSpace(strconv.FormatFloat(*q.Value, 'f', -1, 64) + " " + q.Unit)
	}
	return o.ValueString
}

// refill drafts a MedicationRequest for the prescriber to sign. Controlled
// substances are never drafted.
func (s *Service) refill(ctx context.Context, patientID string, e intent.RefillEntities, resp *CommandResponse) (*CommandResponse, error) {
	if intent.IsControlledSubstance(e.Medication) {
		resp.Status = StatusProviderReview
		resp.Message = "Controlled substances require provider approval and were not drafted."
		return resp, nil
	}
	if e.Medication == "" {
		resp.Status = StatusAcknowledged
		resp.Message = "Which medication should be refilled?"
		return resp, nil
	}
	if err := s.requireChart(patientID); err != nil {
		return nil, err
	}

	mr := &fhirclient.MedicationRequest{
		MedicationCodeableConcept: fhirclient.CodeableConcept{Text: e.Medication},
		Subject:                   fhirclient.Reference{Reference: "Patient/" + patientID},
	}
	if npi := auth.NPIFromContext(ctx); npi != "" {
		mr.Requester = &fhirclient.Reference{Display: "NPI " + npi}
	}
	if dosage := strings.TrimSpace(e.Dose + " " + strings.ToLower(e.Frequency)); dosage != "" {
		mr.DosageInstruction = []fhirclient.Dosage{{Text: dosage}}
	}
	if e.Refills != nil {
		mr.DispenseRequest = &fhirclient.DispenseRequest{NumberOfRepeatsAllowed: e.Refills}
	}
	if e.Quantity != nil {
		mr.Note = []fhirclient.Annotation{{Text: fmt.Sprintf("%d day supply", *e.Quantity)}}
	}

	created, err := s.chart.CreateMedicationRequest(ctx, mr)
	if err != nil {
		return nil, err
	}
	resp.Status = StatusCompleted
	resp.Message = fmt.Sprintf("Refill for %s drafted for signature.", e.Medication)
	resp.Data = created
	return resp, nil
}

func (s *Service) requireChart(patientID string) error {
	if patientID == "" {
		return ErrPatientRequired
	}
	if s.chart == nil {
		return ErrChartUnavailable
	}
	return nil
}

// auditRoute records the utterance and routing decision. The utterance and
// entities pass through the audit redactor before they are stored.
func (s *Service) auditRoute(ctx context.Context, eventType, text, patientID string, res intent.Result, status, outcome string) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(eventType, auth.UserIDFromContext(ctx), "execute")
	ev.Outcome = outcome
	if patientID != "" {
		ev.PatientRef = "Patient/" + patientID
	}
	ev.Details = map[string]any{
		"utterance":             text,
		"intent":                string(res.Intent),
		"confidence":            res.Confidence,
		"requires_confirmation": res.RequiresConfirmation,
		"entities":              intent.AuditFields(res.Entities),
	}
	if status != "" {
		ev.Details["status"] = status
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit voice command")
	}
}
