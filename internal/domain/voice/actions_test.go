package voice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/caller"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/office"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scheduling"
)

type fakeCallers struct {
	verified map[string]string
	result   *caller.Result
	err      error
}

func (f *fakeCallers) StartSession(callID string) *caller.Session {
	return &caller.Session{ID: "sess-" + callID, CallID: callID}
}

func (f *fakeCallers) VerifyNameDOB(_ context.Context, _, _, _ string) (*caller.Result, error) {
	return f.result, f.err
}

func (f *fakeCallers) VerifyMRN(_ context.Context, _, _, _ string) (*caller.Result, error) {
	return f.result, f.err
}

func (f *fakeCallers) PatientFor(sessionID string) (string, error) {
	if id, ok := f.verified[sessionID]; ok {
		return id, nil
	}
	return "", caller.ErrNotVerified
}

type fakeSchedule struct {
	booked    *scheduling.BookingRequest
	bookErr   error
	cancelled string
}

func (f *fakeSchedule) BookAppointment(_ context.Context, req scheduling.BookingRequest) (*scheduling.BookingConfirmation, error) {
	f.booked = &req
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &scheduling.BookingConfirmation{
		AppointmentID:    "appt-abcdef123",
		ConfirmationCode: "APPT-ABC",
		Status:           "booked",
		PatientID:        req.PatientID,
		Start:            time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeSchedule) CancelAppointment(_ context.Context, appointmentID, patientID, _ string) (*scheduling.BookingConfirmation, error) {
	f.cancelled = appointmentID + "/" + patientID
	return &scheduling.BookingConfirmation{AppointmentID: appointmentID, Status: "cancelled", PatientID: patientID}, nil
}

type fakeOffice struct {
	last office.MessageRequest
}

func (f *fakeOffice) Info(infoType string) (any, error) {
	if infoType != "hours" {
		return nil, office.ErrUnknownInfoType
	}
	return map[string]string{"monday_friday": "8:00 AM - 5:00 PM"}, nil
}

func (f *fakeOffice) InfoTypes() []string { return []string{"hours", "location"} }

func (f *fakeOffice) LeaveMessage(_ context.Context, req office.MessageRequest) (*office.MessageReceipt, error) {
	f.last = req
	return &office.MessageReceipt{ReferenceNumber: "COMM0001", ResponseTime: "within 1-2 business days"}, nil
}

type deskFixture struct {
	*fixture
	callers  *fakeCallers
	schedule *fakeSchedule
	office   *fakeOffice
}

func newDeskFixture() *deskFixture {
	d := &deskFixture{
		fixture:  newFixture(),
		callers:  &fakeCallers{verified: map[string]string{"sess-ok": "p1"}},
		schedule: &fakeSchedule{},
		office:   &fakeOffice{},
	}
	d.svc.WithFrontDesk(FrontDesk{Callers: d.callers, Schedule: d.schedule, Office: d.office})
	return d
}

func args(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleAction_StartSession(t *testing.T) {
	d := newDeskFixture()
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{Action: ActionStartSession, CallID: "CA1"})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if resp.SessionID != "sess-CA1" || resp.Action != ActionStartSession {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleAction_BookRequiresVerification(t *testing.T) {
	d := newDeskFixture()
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
		Action:    ActionBookAppointment,
		SessionID: "sess-new",
		Args:      args(t, map[string]string{"appointment_type": "follow_up", "preferred_date": "2026-05-05"}),
	})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if resp.Status != StatusVerificationRequired || d.schedule.booked != nil {
		t.Errorf("expected verification first, got %+v", resp)
	}
}

func TestHandleAction_BookUsesSessionPatient(t *testing.T) {
	d := newDeskFixture()
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
		Action:    ActionBookAppointment,
		SessionID: "sess-ok",
		Args:      args(t, map[string]string{"appointment_type": "follow_up", "preferred_date": "2026-05-05", "preferred_time": "10:00"}),
	})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if d.schedule.booked.PatientID != "p1" || d.schedule.booked.PreferredTime != "10:00" {
		t.Errorf("unexpected booking %+v", d.schedule.booked)
	}
	if resp.Status != StatusCompleted || !strings.Contains(resp.Message, "Tuesday, May 5 at 10:00 AM") || !strings.Contains(resp.Message, "APPT-ABC") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleAction_BookOffersAlternatives(t *testing.T) {
	d := newDeskFixture()
	d.schedule.bookErr = &scheduling.SlotUnavailableError{Alternatives: []scheduling.AvailableSlot{
		{Start: time.Date(2026, 5, 6, 8, 0, 0, 0, time.UTC)},
		{Start: time.Date(2026, 5, 6, 8, 30, 0, 0, time.UTC)},
	}}
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
		Action: ActionBookAppointment, SessionID: "sess-ok",
		Args: args(t, map[string]string{"appointment_type": "follow_up", "preferred_date": "2026-05-05"}),
	})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if resp.Status != StatusUnavailable || !strings.Contains(resp.Message, "Wednesday, May 6 at 8:00 AM; Wednesday, May 6 at 8:30 AM") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleAction_Cancel(t *testing.T) {
	d := newDeskFixture()
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
		Action: ActionCancelAppointment, SessionID: "sess-ok",
		Args: args(t, map[string]string{"appointment_id": "a1", "reason": "conflict"}),
	})
	if err != nil || resp.Status != StatusCompleted {
		t.Fatalf("unexpected %+v, %v", resp, err)
	}
	if d.schedule.cancelled != "a1/p1" {
		t.Errorf("cancelled %q", d.schedule.cancelled)
	}
}

func TestHandleAction_VerificationOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result *caller.Result
		err    error
		want   string
	}{
		{"verified", &caller.Result{Verified: true, PatientID: "p1"}, nil, StatusCompleted},
		{"mismatch", &caller.Result{AttemptsRemaining: 2}, nil, StatusNotVerified},
		{"exhausted", &caller.Result{}, caller.ErrAttemptsExhausted, StatusTransferToStaff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeskFixture()
			d.callers.result, d.callers.err = tt.result, tt.err
			resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
				Action: ActionVerifyPatient, SessionID: "sess-x",
				Args: args(t, map[string]string{"full_name": "John Doe", "date_of_birth": "01/01/1980"}),
			})
			if err != nil {
				t.Fatalf("HandleAction: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %s, want %s", resp.Status, tt.want)
			}
		})
	}
}

func TestHandleAction_LeaveMessageFilesAgainstVerifiedPatient(t *testing.T) {
	d := newDeskFixture()
	ctx := context.Background()
	msg := args(t, map[string]string{"message": "Please call me back", "provider_name": "Dr. Patel"})

	if _, err := d.svc.HandleAction(ctx, ActionRequest{Action: ActionLeaveMessage, SessionID: "sess-new", Args: msg}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if d.office.last.PatientID != "" {
		t.Errorf("unverified caller filed against %q", d.office.last.PatientID)
	}
	resp, err := d.svc.HandleAction(ctx, ActionRequest{Action: ActionLeaveMessage, SessionID: "sess-ok", Args: msg})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if d.office.last.PatientID != "p1" || !strings.Contains(resp.Message, "COMM0001") {
		t.Errorf("unexpected %+v / %+v", d.office.last, resp)
	}
}

func TestHandleAction_OfficeInformation(t *testing.T) {
	d := newDeskFixture()
	resp, err := d.svc.HandleAction(context.Background(), ActionRequest{
		Action: ActionOfficeInformation, Args: args(t, map[string]string{"info_type": "parking"}),
	})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if resp.Status != StatusAcknowledged || resp.Message != "I can help with hours, location." {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleAction_Errors(t *testing.T) {
	d := newDeskFixture()
	ctx := context.Background()

	if _, err := d.svc.HandleAction(ctx, ActionRequest{Action: "transfer_funds"}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := d.svc.HandleAction(ctx, ActionRequest{Action: ActionVerifyPatient, Args: json.RawMessage(`[1]`)}); !errors.Is(err, ErrInvalidActionArgs) {
		t.Errorf("expected ErrInvalidActionArgs, got %v", err)
	}
	bare := newFixture()
	if _, err := bare.svc.HandleAction(ctx, ActionRequest{Action: ActionStartSession}); !errors.Is(err, ErrDeskUnavailable) {
		t.Errorf("expected ErrDeskUnavailable, got %v", err)
	}
}
