package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/fhirclient"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

// -- mocks --

type mockCalendar struct {
	appts     []fhirclient.Appointment
	created   []*fhirclient.Appointment
	updated   []*fhirclient.Appointment
	comms     []*fhirclient.Communication
	queries   []fhirclient.AppointmentQuery
	searchErr error
}

func (m *mockCalendar) SearchAppointments(_ context.Context, q fhirclient.AppointmentQuery) ([]fhirclient.Appointment, error) {
	m.queries = append(m.queries, q)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []fhirclient.Appointment
	for _, a := range m.appts {
		if a.Status == "cancelled" {
			continue
		}
		if q.Patient != "" && !a.HasParticipant("Patient/"+q.Patient) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockCalendar) GetAppointment(_ context.Context, id string) (*fhirclient.Appointment, error) {
	for _, a := range m.appts {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, fhirclient.ErrNotFound
}

func (m *mockCalendar) CreateAppointment(_ context.Context, a *fhirclient.Appointment) (*fhirclient.Appointment, error) {
	m.created = append(m.created, a)
	out := *a
	out.ID = "appt-abcdef123"
	return &out, nil
}

func (m *mockCalendar) UpdateAppointment(_ context.Context, a *fhirclient.Appointment) (*fhirclient.Appointment, error) {
	m.updated = append(m.updated, a)
	out := *a
	return &out, nil
}

func (m *mockCalendar) CreateCommunication(_ context.Context, cm *fhirclient.Communication) (*fhirclient.Communication, error) {
	m.comms = append(m.comms, cm)
	out := *cm
	out.ID = "comm-1"
	return &out, nil
}

type memStore struct {
	events []*hipaa.AuditEvent
}

func (m *memStore) Insert(_ context.Context, e *hipaa.AuditEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) Get(context.Context, uuid.UUID) (*hipaa.AuditEvent, error) {
	return nil, hipaa.ErrAuditEventNotFound
}

func (m *memStore) Search(context.Context, hipaa.AuditFilter) ([]*hipaa.AuditEvent, int, error) {
	return m.events, len(m.events), nil
}

func (m *memStore) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	svc   *Service
	cal   *mockCalendar
	store *memStore
}

// Monday 2026-05-04, 07:00 UTC.
var mondayMorning = time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{cal: &mockCalendar{}, store: &memStore{}}
	r := hipaa.NewRedactor(hipaa.RedactorConfig{Enabled: true})
	f.svc = NewService(f.cal, r, hipaa.NewAuditLogger(f.store, r, "s"), ServiceConfig{Location: time.UTC}, zerolog.Nop())
	f.svc.now = func() time.Time { return mondayMorning }
	return f
}

func held(id, patientID, start, end string) fhirclient.Appointment {
	return fhirclient.Appointment{
		ID:     id,
		Status: "booked",
		Start:  start,
		End:    end,
		Participant: []fhirclient.AppointmentParticipant{
			{Actor: fhirclient.Reference{Reference: "Patient/" + patientID}, Status: "accepted"},
		},
	}
}

func TestBookAppointment_RequestedTime(t *testing.T) {
	f := newFixture()
	conf, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID:       "p1",
		AppointmentType: "follow_up",
		PreferredDate:   "2026-05-05",
		PreferredTime:   "10:00 AM",
		Reason:          "Cough, call me at 555-123-4567",
		ProviderID:      "dr-7",
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if conf.ConfirmationCode != "APPT-ABC" || conf.Status != "booked" || conf.ProviderID != "dr-7" {
		t.Errorf("unexpected confirmation %+v", conf)
	}
	a := f.cal.created[0]
	if a.Start != "2026-05-05T10:00:00Z" || a.End != "2026-05-05T10:30:00Z" || a.MinutesDuration != 30 {
		t.Errorf("unexpected times %s-%s (%d)", a.Start, a.End, a.MinutesDuration)
	}
	if !a.AppointmentType.HasCode("follow_up") || a.AppointmentType.Coding[0].System != appointmentTypeSystem {
		t.Errorf("unexpected type %+v", a.AppointmentType)
	}
	if strings.Contains(a.Description, "555-123-4567") || !strings.Contains(a.Description, "Cough") {
		t.Errorf("description not redacted: %q", a.Description)
	}
	if len(a.Participant) != 2 || a.Participant[1].Actor.Reference != "Practitioner/dr-7" || a.Participant[1].Status != "needs-action" {
		t.Errorf("unexpected participants %+v", a.Participant)
	}
	ev := f.store.events[0]
	if ev.EventType != hipaa.EventAppointmentBooked || ev.PatientRef != "Patient/p1" {
		t.Errorf("unexpected audit event %+v", ev)
	}
}

func TestBookAppointment_FirstOpeningOfDay(t *testing.T) {
	f := newFixture()
	f.cal.appts = []fhirclient.Appointment{held("a1", "p9", "2026-05-05T08:00:00Z", "2026-05-05T08:30:00Z")}

	conf, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "2026-05-05",
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if got := conf.Start.Format("15:04"); got != "08:30" {
		t.Errorf("expected 08:30, got %s", got)
	}
}

func TestBookAppointment_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		req   BookingRequest
		appts []fhirclient.Appointment
	}{
		{"taken", BookingRequest{AppointmentType: "follow_up", PreferredDate: "2026-05-05", PreferredTime: "10:00"},
			[]fhirclient.Appointment{held("a1", "p9", "2026-05-05T10:00:00Z", "2026-05-05T10:30:00Z")}},
		{"earlier visit runs over", BookingRequest{AppointmentType: "follow_up", PreferredDate: "2026-05-05", PreferredTime: "10:00"},
			[]fhirclient.Appointment{held("a1", "p9", "2026-05-05T09:30:00Z", "2026-05-05T10:30:00Z")}},
		{"ends after closing", BookingRequest{AppointmentType: "new_patient", PreferredDate: "2026-05-05", PreferredTime: "4:30 PM"}, nil},
		{"before opening", BookingRequest{AppointmentType: "urgent", PreferredDate: "2026-05-05", PreferredTime: "7:30"}, nil},
		{"weekend", BookingRequest{AppointmentType: "follow_up", PreferredDate: "2026-05-09"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cal.appts = tt.appts
			tt.req.PatientID = "p1"

			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			var unavailable *SlotUnavailableError
			if !errors.As(err, &unavailable) || !errors.Is(err, ErrSlotNotFree) {
				t.Fatalf("expected SlotUnavailableError, got %v", err)
			}
			if len(unavailable.Alternatives) != maxAlternatives {
				t.Errorf("expected %d alternatives, got %d", maxAlternatives, len(unavailable.Alternatives))
			}
			if len(f.cal.created) != 0 {
				t.Error("nothing should be booked")
			}
		})
	}
}

func TestBookAppointment_WeekendAlternativesSkipToMonday(t *testing.T) {
	f := newFixture()
	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "2026-05-09",
	})
	var unavailable *SlotUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected SlotUnavailableError, got %v", err)
	}
	got := []string{}
	for _, s := range unavailable.Alternatives {
		got = append(got, s.Date+" "+s.Time+" "+s.DayName)
	}
	want := []string{"2026-05-11 08:00 Monday", "2026-05-11 08:30 Monday", "2026-05-12 08:00 Tuesday"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("alternatives = %v, want %v", got, want)
	}
}

func TestBookAppointment_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"no patient", BookingRequest{AppointmentType: "follow_up", PreferredDate: "2026-05-05"}, ErrMissingPatientID},
		{"unknown type", BookingRequest{PatientID: "p1", AppointmentType: "surgery", PreferredDate: "2026-05-05"}, ErrUnknownAppointmentType},
		{"bad date", BookingRequest{PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "next tuesday"}, ErrInvalidDate},
		{"past date", BookingRequest{PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "2026-05-01"}, ErrPastDate},
		{"bad time", BookingRequest{PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "2026-05-05", PreferredTime: "noonish"}, ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if _, err := f.svc.BookAppointment(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFindSlots_SkipsPastTimesToday(t *testing.T) {
	f := newFixture()
	f.svc.now = func() time.Time { return time.Date(2026, 5, 4, 10, 10, 0, 0, time.UTC) }

	slots, err := f.svc.FindSlots(context.Background(), SlotSearchParams{Date: "2026-05-04", AppointmentType: "lab_review", Max: 2})
	if err != nil {
		t.Fatalf("FindSlots: %v", err)
	}
	if len(slots) != 2 || slots[0].Time != "10:30" || slots[1].Time != "11:00" {
		t.Errorf("unexpected slots %+v", slots)
	}
}

func TestFindSlots_TimezoneWallClock(t *testing.T) {
	f := newFixture()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	f.svc.loc = loc

	slots, err := f.svc.FindSlots(context.Background(), SlotSearchParams{Date: "2026-05-05", AppointmentType: "follow_up", Max: 1})
	if err != nil {
		t.Fatalf("FindSlots: %v", err)
	}
	if got := slots[0].Start.UTC().Format(time.RFC3339); got != "2026-05-05T12:00:00Z" {
		t.Errorf("expected 08:00 EDT, got %s", got)
	}
}

func TestParseClock(t *testing.T) {
	tests := map[string]int{
		"14:30":   870,
		"2:30 PM": 870,
		"2:30pm":  870,
		"9 AM":    540,
		"9 a.m.":  540,
		"09:05":   545,
	}
	for in, want := range tests {
		got, err := parseClock(in)
		if err != nil || got != want {
			t.Errorf("parseClock(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture()
	f.cal.appts = []fhirclient.Appointment{held("a1", "p1", "2026-05-05T10:00:00Z", "2026-05-05T10:30:00Z")}

	conf, err := f.svc.CancelAppointment(context.Background(), "a1", "p1", "Feeling better, reach me at 555-123-4567")
	if err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if conf.Status != "cancelled" || len(f.cal.updated) != 1 {
		t.Fatalf("unexpected result %+v", conf)
	}
	reason := f.cal.updated[0].CancelationReason
	if !reason.HasCode("pat") || strings.Contains(reason.Text, "555-123-4567") {
		t.Errorf("unexpected cancellation reason %+v", reason)
	}
	if len(f.cal.comms) != 1 {
		t.Fatal("expected a cancellation notice")
	}
	cm := f.cal.comms[0]
	if cm.Subject.Reference != "Patient/p1" || strings.Contains(cm.Payload[0].ContentString, "555-123-4567") {
		t.Errorf("unexpected notice %+v", cm)
	}
	if ev := f.store.events[0]; ev.EventType != hipaa.EventAppointmentCanceled {
		t.Errorf("unexpected audit event %s", ev.EventType)
	}
}

func TestCancelAppointment_NoReasonNoNotice(t *testing.T) {
	f := newFixture()
	f.cal.appts = []fhirclient.Appointment{held("a1", "p1", "2026-05-05T10:00:00Z", "2026-05-05T10:30:00Z")}

	if _, err := f.svc.CancelAppointment(context.Background(), "a1", "p1", " "); err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if len(f.cal.comms) != 0 {
		t.Error("no notice expected without a reason")
	}
}

func TestCancelAppointment_Errors(t *testing.T) {
	f := newFixture()
	done := held("a2", "p1", "2026-05-05T11:00:00Z", "2026-05-05T11:30:00Z")
	done.Status = "cancelled"
	f.cal.appts = []fhirclient.Appointment{held("a1", "p1", "2026-05-05T10:00:00Z", "2026-05-05T10:30:00Z"), done}
	ctx := context.Background()

	if _, err := f.svc.CancelAppointment(ctx, "a1", "p2", ""); !errors.Is(err, ErrWrongPatient) {
		t.Errorf("expected ErrWrongPatient, got %v", err)
	}
	if _, err := f.svc.CancelAppointment(ctx, "missing", "p1", ""); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
	conf, err := f.svc.CancelAppointment(ctx, "a2", "p1", "")
	if err != nil || conf.Status != "cancelled" {
		t.Errorf("expected idempotent cancel, got %+v, %v", conf, err)
	}
	if len(f.cal.updated) != 0 {
		t.Error("no appointment should have been updated")
	}
}

func TestListPatientAppointments_Sorted(t *testing.T) {
	f := newFixture()
	f.cal.appts = []fhirclient.Appointment{
		held("late", "p1", "2026-05-07T10:00:00Z", "2026-05-07T10:30:00Z"),
		held("other", "p2", "2026-05-05T10:00:00Z", "2026-05-05T10:30:00Z"),
		held("early", "p1", "2026-05-05T09:00:00Z", "2026-05-05T09:30:00Z"),
	}

	got, err := f.svc.ListPatientAppointments(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("ListPatientAppointments: %v", err)
	}
	if len(got) != 2 || got[0].AppointmentID != "early" || got[1].AppointmentID != "late" {
		t.Errorf("unexpected order %+v", got)
	}
	if q := f.cal.queries[0]; q.Patient != "p1" || !q.Start.Equal(mondayMorning.Truncate(24*time.Hour)) {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestBookAppointment_CalendarDown(t *testing.T) {
	f := newFixture()
	f.cal.searchErr = errors.New("connection refused")

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: "p1", AppointmentType: "follow_up", PreferredDate: "2026-05-05", PreferredTime: "10:00",
	})
	if err == nil || errors.Is(err, ErrSlotNotFree) {
		t.Fatalf("expected calendar error, got %v", err)
	}
}
