package office

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

var (
	ErrUnknownInfoType      = errors.New("office: unknown information type")
	ErrEmptyMessage         = errors.New("office: message is required")
	ErrInvalidUrgency       = errors.New("office: urgency must be routine or urgent")
	ErrMessagingUnavailable = errors.New("office: messaging backend not configured")
)

const (
	UrgencyRoutine = "routine"
	UrgencyUrgent  = "urgent"

	communicationCategory = "http://terminology.hl7.org/CodeSystem/communication-category"
	maxMessageLen         = 2000
)

// Messenger records provider messages in the chart.
type Messenger interface {
	CreateCommunication(ctx context.Context, cm *fhirclient.Communication) (*fhirclient.Communication, error)
	CreateTask(ctx context.Context, t *fhirclient.Task) (*fhirclient.Task, error)
}

type Location struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Phone   string `json:"phone"`
}

type Hours struct {
	MondayFriday string `json:"monday_friday"`
	Saturday     string `json:"saturday"`
	Sunday       string `json:"sunday"`
	Holidays     string `json:"holidays"`
}

type Emergency struct {
	Message    string `json:"message"`
	AfterHours string `json:"after_hours"`
	NearestER  string `json:"nearest_er"`
}

type MessageRequest struct {
	PatientID    string `json:"patient_id,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	Message      string `json:"message"`
	Urgency      string `json:"urgency,omitempty"`
}

type MessageReceipt struct {
	ReferenceNumber string `json:"reference_number"`
	CommunicationID string `json:"communication_id"`
	TaskID          string `json:"task_id"`
	Urgency         string `json:"urgency"`
	ResponseTime    string `json:"response_time"`
}

type Service struct {
	messenger Messenger
	redactor  *hipaa.Redactor
	audit     *hipaa.AuditLogger
	logger    zerolog.Logger
	info      map[string]any
}

// NewService builds the office desk. messenger may be nil; Info still
// works and LeaveMessage reports ErrMessagingUnavailable.
func NewService(messenger Messenger, redactor *hipaa.Redactor, audit *hipaa.AuditLogger, loc Location, logger zerolog.Logger) *Service {
	return &Service{
		messenger: messenger,
		redactor:  redactor,
		audit:     audit,
		logger:    logger.With().Str("component", "office").Logger(),
		info: map[string]any{
			"hours": Hours{
				MondayFriday: "8:00 AM - 5:00 PM",
				Saturday:     "Closed",
				Sunday:       "Closed",
				Holidays:     "Closed on major holidays",
			},
			"location": loc,
			"services": []string{
				"Primary Care",
				"Annual Physicals",
				"Preventive Care",
				"Chronic Disease Management",
				"Minor Procedures",
				"Lab Services",
				"Telehealth Visits",
			},
			"insurance": []string{
				"Medicare",
				"Medicaid",
				"Most major insurance plans",
				"Please call to verify specific coverage",
			},
			"emergency": Emergency{
				Message:    "For medical emergencies, hang up and dial 911",
				AfterHours: "For urgent after-hours needs, call our on-call service",
				NearestER:  "Nearest ER: University Hospital, 530 S Jackson St",
			},
		},
	}
}

// InfoTypes lists the topics Info answers, sorted.
func (s *Service) InfoTypes() []string {
	out := make([]string, 0, len(s.info))
	for k := range s.info {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Info(infoType string) (any, error) {
	v, ok := s.info[strings.ToLower(strings.TrimSpace(infoType))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownInfoType, infoType)
	}
	return v, nil
}

// LeaveMessage files a redacted message for a provider and opens a review
// task pointing at it.
func (s *Service) LeaveMessage(ctx context.Context, req MessageRequest) (*MessageReceipt, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if r := []rune(msg); len(r) > maxMessageLen {
		msg = string(r[:maxMessageLen])
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyRoutine
	}
	if urgency != UrgencyRoutine && urgency != UrgencyUrgent {
		return nil, ErrInvalidUrgency
	}
	if s.messenger == nil {
		return nil, ErrMessagingUnavailable
	}

	recipient := strings.TrimSpace(req.ProviderName)
	topic := "Message for Provider"
	if recipient != "" {
		topic = "Message for " + recipient
	}
	cm := &fhirclient.Communication{
		Status: "completed",
		Category: []fhirclient.CodeableConcept{{
			Coding: []fhirclient.Coding{{System: communicationCategory, Code: "instruction"}},
		}},
		Priority: urgency,
		Topic:    &fhirclient.CodeableConcept{Text: topic},
		Payload:  []fhirclient.CommunicationPayload{{ContentString: s.redactor.RedactString(msg)}},
	}
	var subject *fhirclient.Reference
	if req.PatientID != "" {
		subject = &fhirclient.Reference{Reference: "Patient/" + req.PatientID}
		cm.Subject = subject
	}
	if recipient != "" {
		cm.Recipient = []fhirclient.Reference{{Display: recipient}}
	}
	created, err := s.messenger.CreateCommunication(ctx, cm)
	if err != nil {
		return nil, fmt.Errorf("office: record message: %w", err)
	}

	task, err := s.messenger.CreateTask(ctx, &fhirclient.Task{
		Status:      "requested",
		Intent:      "order",
		Priority:    urgency,
		Code:        &fhirclient.CodeableConcept{Text: "Provider Message Review"},
		Description: "Patient message requires review",
		For:         subject,
		Focus:       &fhirclient.Reference{Reference: "Communication/" + created.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("office: open review task: %w", err)
	}

	receipt := &MessageReceipt{
		ReferenceNumber: strings.ToUpper(created.ID[:min(8, len(created.ID))]),
		CommunicationID: created.ID,
		TaskID:          task.ID,
		Urgency:         urgency,
		ResponseTime:    "within 1-2 business days",
	}
	if urgency == UrgencyUrgent {
		receipt.ResponseTime = "within 4 hours during business hours"
	}
	s.auditMessage(ctx, req.PatientID, receipt)
	return receipt, nil
}

func (s *Service) auditMessage(ctx context.Context, patientID string, r *MessageReceipt) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(hipaa.EventProviderMessage, auth.UserIDFromContext(ctx), "create")
	if patientID != "" {
		ev.PatientRef = "Patient/" + patientID
	}
	ev.Details = map[string]any{
		"communication_id": r.CommunicationID,
		"task_id":          r.TaskID,
		"urgency":          r.Urgency,
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit provider message")
	}
}
