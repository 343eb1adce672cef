package caller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

// Directory looks patients up in the chart.
type Directory interface {
	SearchPatients(ctx context.Context, q fhirclient.PatientQuery) ([]fhirclient.Patient, error)
}

type Config struct {
	SessionTTL  time.Duration
	MaxAttempts int
	MaxSessions int
}

// Verifier confirms a caller's identity before any chart action is taken
// on their behalf.
type Verifier struct {
	dir         Directory
	audit       *hipaa.AuditLogger
	logger      zerolog.Logger
	ttl         time.Duration
	maxAttempts int

	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	now      func() time.Time
}

func NewVerifier(dir Directory, audit *hipaa.AuditLogger, cfg Config, logger zerolog.Logger) *Verifier {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	return &Verifier{
		dir:         dir,
		audit:       audit,
		logger:      logger.With().Str("component", "caller").Logger(),
		ttl:         cfg.SessionTTL,
		maxAttempts: cfg.MaxAttempts,
		sessions:    expirable.NewLRU[string, *Session](cfg.MaxSessions, nil, cfg.SessionTTL),
		now:         time.Now,
	}
}

// StartSession opens a verification session for callID.
func (v *Verifier) StartSession(callID string) *Session {
	s := &Session{ID: uuid.NewString(), CallID: callID, Created: v.now()}
	v.sessions.Add(s.ID, s)
	cp := *s
	return &cp
}

// VerifyNameDOB matches the caller's full name and date of birth against
// exactly one chart.
func (v *Verifier) VerifyNameDOB(ctx context.Context, sessionID, fullName, dob string) (*Result, error) {
	if _, err := v.session(sessionID); err != nil {
		return nil, err
	}
	parts := strings.Fields(fullName)
	if len(parts) < 2 || strings.TrimSpace(dob) == "" {
		return nil, ErrIncompleteIdentity
	}
	birthDate, err := NormalizeDate(dob)
	if err != nil {
		return nil, err
	}

	found, err := v.dir.SearchPatients(ctx, fhirclient.PatientQuery{
		Given:     parts[0],
		Family:    parts[len(parts)-1],
		BirthDate: birthDate,
	})
	if err != nil {
		return nil, fmt.Errorf("caller: patient lookup: %w", err)
	}
	want := normalizeName(fullName)
	var matches []fhirclient.Patient
	for _, p := range found {
		if p.BirthDate != birthDate {
			continue
		}
		short := normalizeName(p.FirstName() + " " + p.LastName())
		if normalizeName(p.FullName()) == want || short == want {
			matches = append(matches, p)
		}
	}
	var patient *fhirclient.Patient
	if len(matches) == 1 {
		patient = &matches[0]
	}
	return v.record(ctx, sessionID, MethodNameDOB, patient, "No matching patient found")
}

// VerifyMRN matches a medical record number and last name.
func (v *Verifier) VerifyMRN(ctx context.Context, sessionID, mrn, lastName string) (*Result, error) {
	if _, err := v.session(sessionID); err != nil {
		return nil, err
	}
	mrn = strings.TrimSpace(mrn)
	lastName = strings.TrimSpace(lastName)
	if mrn == "" || lastName == "" {
		return nil, ErrIncompleteIdentity
	}

	found, err := v.dir.SearchPatients(ctx, fhirclient.PatientQuery{Identifier: mrn})
	if err != nil {
		return nil, fmt.Errorf("caller: patient lookup: %w", err)
	}
	var patient *fhirclient.Patient
	for i := range found {
		p := &found[i]
		if p.MRN() == mrn && strings.EqualFold(p.LastName(), lastName) {
			if patient != nil {
				patient = nil
				break
			}
			patient = p
		}
	}
	return v.record(ctx, sessionID, MethodMRN, patient, "MRN and last name do not match")
}

// PatientFor returns the patient a verified session belongs to.
func (v *Verifier) PatientFor(sessionID string) (string, error) {
	s, err := v.session(sessionID)
	if err != nil {
		return "", err
	}
	if !s.Verified {
		return "", ErrNotVerified
	}
	return s.PatientID, nil
}

// session returns a copy of a live session.
func (v *Verifier) session(id string) (Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.sessions.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if v.now().Sub(s.Created) > v.ttl || s.Attempts >= v.maxAttempts {
		v.sessions.Remove(id)
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (v *Verifier) record(ctx context.Context, sessionID, method string, patient *fhirclient.Patient, reason string) (*Result, error) {
	v.mu.Lock()
	s, ok := v.sessions.Get(sessionID)
	if !ok {
		v.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	res := &Result{Method: method}
	if patient != nil {
		s.Verified = true
		s.PatientID = patient.ID
		s.Method = method
		res.Verified = true
		res.PatientID = patient.ID
	} else {
		s.Attempts++
		res.Reason = reason
	}
	res.AttemptsRemaining = max(v.maxAttempts-s.Attempts, 0)
	exhausted := !res.Verified && res.AttemptsRemaining == 0
	if exhausted {
		v.sessions.Remove(sessionID)
	}
	sess := *s
	v.mu.Unlock()

	outcome := hipaa.OutcomeSuccess
	switch {
	case exhausted:
		outcome = hipaa.OutcomeDenied
	case !res.Verified:
		outcome = hipaa.OutcomeFailure
	}
	v.auditAttempt(ctx, sess, method, outcome)

	if exhausted {
		v.logger.Warn().Str("call_id", sess.CallID).Str("method", method).Msg("caller verification attempts exhausted")
		return res, ErrAttemptsExhausted
	}
	return res, nil
}

func (v *Verifier) auditAttempt(ctx context.Context, s Session, method, outcome string) {
	if v.audit == nil {
		return
	}
	ev := hipaa.NewEvent(hipaa.EventCallerVerification, auth.UserIDFromContext(ctx), "verify")
	ev.Outcome = outcome
	if s.Verified {
		ev.PatientRef = "Patient/" + s.PatientID
	}
	ev.Details = map[string]any{
		"method":     method,
		"call_id":    s.CallID,
		"session_id": s.ID,
		"attempts":   s.Attempts,
	}
	if err := v.audit.LogEvent(ctx, ev); err != nil {
		v.logger.Error().Err(err).Msg("failed to audit caller verification")
	}
}
