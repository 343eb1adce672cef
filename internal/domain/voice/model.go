package voice

import (
	"encoding/json"
	"errors"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scribe"
)

// Command statuses.
const (
	StatusCompleted            = "completed"
	StatusConfirmationRequired = "confirmation_required"
	StatusProviderReview       = "provider_review"
	StatusAcknowledged         = "acknowledged"
	StatusVerificationRequired = "verification_required"
	StatusNotVerified          = "not_verified"
	StatusTransferToStaff      = "transfer_to_staff"
	StatusUnavailable          = "unavailable"
)

var (
	ErrEmptyCommand     = errors.New("voice: command text is empty")
	ErrPatientRequired  = errors.New("voice: patient_id is required for this command")
	ErrChartUnavailable = errors.New("voice: chart backend not configured")
)

// CommandRequest is one transcribed utterance from the clinician.
// Transcript carries the visit conversation for CreateSOAPNote and Note the
// finished note for GenerateAVS.
type CommandRequest struct {
	Text       string               `json:"text"`
	PatientID  string               `json:"patient_id,omitempty"`
	Confirmed  bool                 `json:"confirmed"`
	Transcript string               `json:"transcript,omitempty"`
	Note       *scribe.ClinicalNote `json:"note,omitempty"`
}

// CommandResponse is what the agent speaks back. Data holds the structured
// payload of completed actions.
type CommandResponse struct {
	Status  string        `json:"status"`
	Routed  intent.Result `json:"routed"`
	Message string        `json:"message"`
	Data    any           `json:"data,omitempty"`
}

// ActionRequest is one phone-line tool call. SessionID ties it to a caller
// verification session; Args holds the action's JSON arguments.
type ActionRequest struct {
	Action    string          `json:"action"`
	CallID    string          `json:"call_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

type ActionResponse struct {
	Action    string `json:"action"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

// AllergySummary is one allergy as read back to the clinician.
type AllergySummary struct {
	Substance   string `json:"substance"`
	Criticality string `json:"criticality,omitempty"`
	Reaction    string `json:"reaction,omitempty"`
}

// LabSummary is one result. Value is only set for normal results.
type LabSummary struct {
	Test   string `json:"test"`
	Date   string `json:"date,omitempty"`
	Status string `json:"status"`
	Value  string `json:"value,omitempty"`
}
