package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

// PatientSource is the part of the FHIR client the service needs.
type PatientSource interface {
	GetPatient(ctx context.Context, id string) (*fhirclient.Patient, error)
	SearchCoverage(ctx context.Context, patientID string) ([]fhirclient.Coverage, error)
}

// Clearinghouse answers eligibility inquiries.
type Clearinghouse interface {
	CheckEligibility(ctx context.Context, inq Inquiry) (*Response, error)
}

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	defaultMetricsDays  = 30
	maxMetricsDays      = 365
)

type Service struct {
	repo     Repository
	patients PatientSource
	house    Clearinghouse
	cache    *expirable.LRU[string, *Result]
	audit    *hipaa.AuditLogger
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceConfig sizes the result cache.
type ServiceConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewService wires the eligibility flow. patients and house may be nil when
// the backends are not configured; Check then reports
// ErrEligibilityUnavailable.
func NewService(repo Repository, patients PatientSource, house Clearinghouse, audit *hipaa.AuditLogger, cfg ServiceConfig, logger zerolog.Logger) *Service {
	size := cfg.CacheSize
	if size <= 0 {
		size = 5000
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		patients: patients,
		house:    house,
		cache:    expirable.NewLRU[string, *Result](size, nil, ttl),
		audit:    audit,
		logger:   logger.With().Str("component", "eligibility").Logger(),
		now:      time.Now,
	}
}

// Check returns the patient's current coverage. A fresh cached answer is
// returned with Cached set; otherwise the payer is queried and the result
// stored. Unknown answers are not cached.
func (s *Service) Check(ctx context.Context, patientID, providerNPI string) (*Result, error) {
	if patientID == "" {
		return nil, fmt.Errorf("eligibility: patient id is required")
	}
	if !hipaa.ValidNPI(providerNPI) {
		return nil, ErrInvalidNPI
	}

	if hit, ok := s.cache.Get(patientID); ok {
		out := *hit
		out.Cached = true
		s.auditCheck(ctx, &out, hipaa.OutcomeSuccess)
		return &out, nil
	}

	if s.patients == nil || s.house == nil {
		return nil, ErrEligibilityUnavailable
	}

	patient, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	coverages, err := s.patients.SearchCoverage(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(coverages) == 0 {
		return nil, fhirclient.ErrNoCoverage
	}
	cov := coverages[0]

	resp, err := s.house.CheckEligibility(ctx, Inquiry{
		PayerID:     cov.PayerID(),
		ProviderNPI: providerNPI,
		Subscriber: Subscriber{
			MemberID:    cov.SubscriberID,
			FirstName:   patient.FirstName(),
			LastName:    patient.LastName(),
			DateOfBirth: patient.BirthDate,
		},
	})
	if err != nil {
		failed := &Result{PatientID: patientID, Status: StatusUnknown}
		s.auditCheck(ctx, failed, hipaa.OutcomeFailure)
		return nil, err
	}

	res := &Result{
		ID:            uuid.New(),
		PatientID:     patientID,
		ProviderNPI:   providerNPI,
		ControlNumber: resp.ControlNumber,
		Status:        resp.Status,
		PlanName:      resp.PlanName,
		Copay:         resp.Copay,
		Deductible:    resp.Deductible,
		OOPMax:        resp.OOPMax,
		CheckDate:     s.now().UTC(),
		RawResponse:   resp.Raw,
	}
	if err := s.repo.Create(ctx, res); err != nil {
		return nil, err
	}
	if res.Status != StatusUnknown {
		s.cache.Add(patientID, res)
	}

	s.logger.Info().
		Str("check_id", res.ID.String()).
		Str("status", res.Status).
		Msg("eligibility checked")
	s.auditCheck(ctx, res, hipaa.OutcomeSuccess)
	return res, nil
}

// History returns the patient's most recent checks, newest first.
func (s *Service) History(ctx context.Context, patientID string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListByPatient(ctx, patientID, limit)
}

// Metrics summarizes checks over the last days days.
func (s *Service) Metrics(ctx context.Context, days int) (*Metrics, error) {
	if days == 0 {
		days = defaultMetricsDays
	}
	if days < 1 || days > maxMetricsDays {
		return nil, fmt.Errorf("eligibility: days must be between 1 and %d", maxMetricsDays)
	}
	m, err := s.repo.Metrics(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	m.PeriodDays = days
	return m, nil
}

// RawResponse opens the sealed payer payload for a check. Every read is
// audited as PHI access.
func (s *Service) RawResponse(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	raw, err := s.repo.RawResponse(ctx, id)
	outcome := hipaa.OutcomeSuccess
	if err != nil {
		outcome = hipaa.OutcomeFailure
	}
	if s.audit != nil {
		ev := hipaa.NewEvent(hipaa.EventPHIAccess, auth.UserIDFromContext(ctx), "read")
		ev.Outcome = outcome
		ev.Details = map[string]any{"resource": "eligibility_check", "check_id": id.String()}
		if aerr := s.audit.LogEvent(ctx, ev); aerr != nil {
			s.logger.Error().Err(aerr).Msg("failed to audit eligibility response access")
		}
	}
	return raw, err
}

// PurgeBefore lets the retention service delete old checks.
func (s *Service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.PurgeBefore(ctx, cutoff)
	if err == nil && n > 0 {
		s.cache.Purge()
	}
	return n, err
}

func (s *Service) auditCheck(ctx context.Context, r *Result, outcome string) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(hipaa.EventEligibilityCheck, auth.UserIDFromContext(ctx), "read")
	ev.PatientRef = "Patient/" + r.PatientID
	ev.Outcome = outcome
	ev.Details = map[string]any{
		"coverage_status": r.Status,
		"cached":          r.Cached,
	}
	if r.ID != uuid.Nil {
		ev.Details["check_id"] = r.ID.String()
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit eligibility check")
	}
}

// IsNotFound reports whether err means the patient or coverage is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, fhirclient.ErrPatientNotFound) || errors.Is(err, fhirclient.ErrNoCoverage)
}
