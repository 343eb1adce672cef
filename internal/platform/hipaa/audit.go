package hipaa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit event types written by the voice backend.
const (
	EventVoiceCommand        = "voice_command"
	EventIntentRouted        = "intent_routed"
	EventEligibilityCheck    = "eligibility_check"
	EventSOAPNoteGenerated   = "soap_note_generated"
	EventAVSGenerated        = "avs_generated"
	EventPHIAccess           = "phi_access"
	EventRetentionPurge      = "retention_purge"
	EventCallerVerification  = "caller_verification"
	EventAppointmentBooked   = "appointment_booked"
	EventAppointmentCanceled = "appointment_cancelled"
	EventProviderMessage     = "provider_message_created"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending_confirmation"
	OutcomeDenied  = "denied"
)

// ErrAuditEventNotFound is returned by Get when no event has the given ID.
var ErrAuditEventNotFound = errors.New("hipaa audit: event not found")

// AuditEvent is one row of the audit_event table. Details are redacted before
// the checksum is computed, so the checksum covers exactly what is stored.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	EventType  string         `json:"event_type"`
	ActorID    string         `json:"actor_id"`
	PatientRef string         `json:"patient_ref,omitempty"`
	Action     string         `json:"action"`
	Outcome    string         `json:"outcome"`
	Details    map[string]any `json:"details"`
	Checksum   string         `json:"checksum"`
	Recorded   time.Time      `json:"recorded"`
}

// AuditFilter narrows Search. Zero values match everything.
type AuditFilter struct {
	EventType  string
	ActorID    string
	PatientRef string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// AuditStore persists audit events. PGAuditStore is the production
// implementation.
type AuditStore interface {
	Insert(ctx context.Context, event *AuditEvent) error
	Get(ctx context.Context, id uuid.UUID) (*AuditEvent, error)
	Search(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLogger writes tamper-evident, PHI-redacted audit events.
type AuditLogger struct {
	store    AuditStore
	redactor *Redactor
	secret   []byte
}

// NewAuditLogger creates an AuditLogger. secret keys the HMAC checksum; an
// empty secret is only accepted outside production (config enforces that).
func NewAuditLogger(store AuditStore, redactor *Redactor, secret string) *AuditLogger {
	return &AuditLogger{store: store, redactor: redactor, secret: []byte(secret)}
}

// LogEvent redacts the event details, stamps ID and time, computes the
// checksum and stores the event.
func (a *AuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Recorded.IsZero() {
		event.Recorded = time.Now()
	}
	// timestamptz keeps microseconds; truncate so a stored event re-verifies.
	event.Recorded = event.Recorded.UTC().Truncate(time.Microsecond)
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}
	details, err := normalizeDetails(a.redactor.RedactMap(event.Details))
	if err != nil {
		return fmt.Errorf("hipaa audit: details: %w", err)
	}
	event.Details = details

	sum, err := a.checksum(event)
	if err != nil {
		return fmt.Errorf("hipaa audit: checksum: %w", err)
	}
	event.Checksum = sum

	if err := a.store.Insert(ctx, event); err != nil {
		return fmt.Errorf("hipaa audit: insert: %w", err)
	}
	return nil
}

// VerifyChecksum reports whether the stored checksum still matches the event.
func (a *AuditLogger) VerifyChecksum(event *AuditEvent) bool {
	sum, err := a.checksum(event)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(sum), []byte(event.Checksum))
}

// Get loads a single event.
func (a *AuditLogger) Get(ctx context.Context, id uuid.UUID) (*AuditEvent, error) {
	return a.store.Get(ctx, id)
}

// Search returns a page of events, newest first, and the total match count.
func (a *AuditLogger) Search(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return a.store.Search(ctx, filter)
}

// checksum is HMAC-SHA256 over the canonical JSON of every field except the
// checksum itself. encoding/json sorts map keys, which makes the encoding
// canonical for a given set of values.
func (a *AuditLogger) checksum(event *AuditEvent) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"id":          event.ID.String(),
		"event_type":  event.EventType,
		"actor_id":    event.ActorID,
		"patient_ref": event.PatientRef,
		"action":      event.Action,
		"outcome":     event.Outcome,
		"details":     event.Details,
		"recorded":    event.Recorded.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// normalizeDetails round-trips details through JSON so the in-memory value is
// exactly what a JSONB column hands back, and the checksum survives storage.
func normalizeDetails(details map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewEvent builds an event for the given actor. Callers add Details and
// PatientRef as needed.
func NewEvent(eventType, actorID, action string) *AuditEvent {
	return &AuditEvent{
		EventType: eventType,
		ActorID:   actorID,
		Action:    action,
		Outcome:   OutcomeSuccess,
		Details:   map[string]any{},
	}
}
