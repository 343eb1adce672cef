package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/auth"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

const (
	appointmentTypeSystem = "http://terminology.hl7.org/CodeSystem/v2-0276"
	cancelReasonSystem    = "http://terminology.hl7.org/CodeSystem/appointment-cancellation-reason"
	communicationCategory = "http://terminology.hl7.org/CodeSystem/communication-category"
	defaultListLimit      = 20
	statusCancelled       = "cancelled"
)

// Calendar is the FHIR surface booking reads and writes.
type Calendar interface {
	SearchAppointments(ctx context.Context, q fhirclient.AppointmentQuery) ([]fhirclient.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*fhirclient.Appointment, error)
	CreateAppointment(ctx context.Context, a *fhirclient.Appointment) (*fhirclient.Appointment, error)
	UpdateAppointment(ctx context.Context, a *fhirclient.Appointment) (*fhirclient.Appointment, error)
	CreateCommunication(ctx context.Context, cm *fhirclient.Communication) (*fhirclient.Communication, error)
}

type ServiceConfig struct {
	Location *time.Location
	Hours    BusinessHours
}

// Service books and cancels appointments against the FHIR calendar.
// Availability is checked and then written in two steps, so two callers
// can still race for the same opening; the FHIR server is the arbiter.
type Service struct {
	calendar Calendar
	redactor *hipaa.Redactor
	audit    *hipaa.AuditLogger
	logger   zerolog.Logger
	loc      *time.Location
	hours    BusinessHours
	now      func() time.Time
}

func NewService(calendar Calendar, redactor *hipaa.Redactor, audit *hipaa.AuditLogger, cfg ServiceConfig, logger zerolog.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	hours := cfg.Hours
	if len(hours.Days) == 0 {
		hours = DefaultHours
	}
	return &Service{
		calendar: calendar,
		redactor: redactor,
		audit:    audit,
		logger:   logger.With().Str("component", "scheduling").Logger(),
		loc:      loc,
		hours:    hours,
		now:      time.Now,
	}
}

// BookAppointment books the requested opening, or the first opening of the
// day when no time is given. When nothing fits, the error is a
// *SlotUnavailableError listing alternatives.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	if req.PatientID == "" {
		return nil, ErrMissingPatientID
	}
	typ, err := lookupType(req.AppointmentType)
	if err != nil {
		return nil, err
	}

	slot, err := s.findSlot(ctx, req, typ)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		from, perr := parseDay(req.PreferredDate, s.loc)
		if perr != nil {
			from = s.today()
		}
		alts, err := s.alternatives(ctx, from, typ, req.ProviderID)
		if err != nil {
			return nil, err
		}
		return nil, &SlotUnavailableError{Alternatives: alts}
	}

	appt := &fhirclient.Appointment{
		Status: "booked",
		AppointmentType: &fhirclient.CodeableConcept{Coding: []fhirclient.Coding{{
			System:  appointmentTypeSystem,
			Code:    typ.Code,
			Display: typ.Description,
		}}},
		Start:           slot.Start.Format(time.RFC3339),
		End:             slot.End.Format(time.RFC3339),
		MinutesDuration: typ.Duration,
		Participant: []fhirclient.AppointmentParticipant{{
			Actor:    fhirclient.Reference{Reference: "Patient/" + req.PatientID},
			Required: "required",
			Status:   "accepted",
		}},
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		appt.Description = s.redactor.RedactString(reason)
	}
	if req.ProviderID != "" {
		appt.Participant = append(appt.Participant, fhirclient.AppointmentParticipant{
			Actor:    fhirclient.Reference{Reference: "Practitioner/" + req.ProviderID},
			Required: "required",
			Status:   "needs-action",
		})
	}

	created, err := s.calendar.CreateAppointment(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("scheduling: create appointment: %w", err)
	}
	conf := s.confirmation(created, req.PatientID)
	s.auditChange(ctx, hipaa.EventAppointmentBooked, "create", conf)
	s.logger.Info().Str("appointment_id", conf.AppointmentID).Str("type", typ.Code).Msg("appointment booked")
	return conf, nil
}

// CancelAppointment cancels an appointment the patient takes part in.
// Cancelling twice is not an error.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, patientID, reason string) (*BookingConfirmation, error) {
	appt, err := s.owned(ctx, appointmentID, patientID)
	if err != nil {
		return nil, err
	}
	if appt.Status == statusCancelled {
		return s.confirmation(appt, patientID), nil
	}

	reason = strings.TrimSpace(reason)
	appt.Status = statusCancelled
	appt.CancelationReason = &fhirclient.CodeableConcept{
		Coding: []fhirclient.Coding{{System: cancelReasonSystem, Code: "pat", Display: "Patient"}},
	}
	if reason != "" {
		appt.CancelationReason.Text = s.redactor.RedactString(reason)
	}
	updated, err := s.calendar.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("scheduling: cancel appointment: %w", err)
	}

	if reason != "" {
		cm := &fhirclient.Communication{
			Status: "completed",
			Category: []fhirclient.CodeableConcept{{
				Coding: []fhirclient.Coding{{System: communicationCategory, Code: "notification"}},
			}},
			Priority: "routine",
			Subject:  &fhirclient.Reference{Reference: "Patient/" + patientID},
			Topic:    &fhirclient.CodeableConcept{Text: "Appointment Cancellation"},
			Payload: []fhirclient.CommunicationPayload{{
				ContentString: "Appointment cancelled. Reason: " + s.redactor.RedactString(reason),
			}},
		}
		if _, err := s.calendar.CreateCommunication(ctx, cm); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", appointmentID).Msg("cancellation notice not recorded")
		}
	}

	conf := s.confirmation(updated, patientID)
	s.auditChange(ctx, hipaa.EventAppointmentCanceled, "update", conf)
	return conf, nil
}

// GetAppointment reads one appointment, verifying patient ownership.
func (s *Service) GetAppointment(ctx context.Context, appointmentID, patientID string) (*BookingConfirmation, error) {
	appt, err := s.owned(ctx, appointmentID, patientID)
	if err != nil {
		return nil, err
	}
	return s.confirmation(appt, patientID), nil
}

// ListPatientAppointments returns the patient's upcoming appointments,
// soonest first.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID string, limit int) ([]BookingConfirmation, error) {
	if patientID == "" {
		return nil, ErrMissingPatientID
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	appts, err := s.calendar.SearchAppointments(ctx, fhirclient.AppointmentQuery{
		Start:    s.today(),
		Statuses: fhirclient.AppointmentOpenStatuses,
		Patient:  patientID,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	out := make([]BookingConfirmation, 0, len(appts))
	for i := range appts {
		out = append(out, *s.confirmation(&appts[i], patientID))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, appointmentID, patientID string) (*fhirclient.Appointment, error) {
	if appointmentID == "" {
		return nil, ErrMissingAppointmentID
	}
	if patientID == "" {
		return nil, ErrMissingPatientID
	}
	appt, err := s.calendar.GetAppointment(ctx, appointmentID)
	if errors.Is(err, fhirclient.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	if !appt.HasParticipant("Patient/" + patientID) {
		return nil, ErrWrongPatient
	}
	return appt, nil
}

func (s *Service) confirmation(a *fhirclient.Appointment, patientID string) *BookingConfirmation {
	c := &BookingConfirmation{
		AppointmentID:    a.ID,
		ConfirmationCode: strings.ToUpper(a.ID[:min(8, len(a.ID))]),
		Status:           a.Status,
		PatientID:        patientID,
		Duration:         a.MinutesDuration,
	}
	if a.AppointmentType != nil && len(a.AppointmentType.Coding) > 0 {
		c.AppointmentType = a.AppointmentType.Coding[0].Code
		c.Description = a.AppointmentType.Label()
	}
	if t, err := time.Parse(time.RFC3339, a.Start); err == nil {
		c.Start = t.In(s.loc)
	}
	if t, err := time.Parse(time.RFC3339, a.End); err == nil {
		c.End = t.In(s.loc)
	}
	for _, p := range a.Participant {
		if id, ok := strings.CutPrefix(p.Actor.Reference, "Practitioner/"); ok {
			c.ProviderID = id
		}
	}
	return c
}

// auditChange records a booking or cancellation. Dates stay out of Details;
// the appointment id is enough to find them.
func (s *Service) auditChange(ctx context.Context, eventType, action string, c *BookingConfirmation) {
	if s.audit == nil {
		return
	}
	ev := hipaa.NewEvent(eventType, auth.UserIDFromContext(ctx), action)
	ev.PatientRef = "Patient/" + c.PatientID
	ev.Details = map[string]any{
		"appointment_id":   c.AppointmentID,
		"appointment_type": c.AppointmentType,
		"status":           c.Status,
	}
	if err := s.audit.LogEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit appointment change")
	}
}
