package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingPatientID       = errors.New("patient_id is required")
	ErrMissingAppointmentID   = errors.New("appointment id is required")
	ErrUnknownAppointmentType = errors.New("unknown appointment type")
	ErrInvalidDate            = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTime            = errors.New("time must look like 14:30 or 2:30 PM")
	ErrPastDate               = errors.New("requested date is in the past")
	ErrSlotNotFree            = errors.New("slot is not available")
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrWrongPatient           = errors.New("patient is not a participant in this appointment")
)

// SlotUnavailableError carries the alternatives offered when the requested
// time cannot be booked.
type SlotUnavailableError struct {
	Alternatives []AvailableSlot
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("requested time not available (%d alternatives)", len(e.Alternatives))
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotNotFree }

type AppointmentType struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Duration    int    `json:"duration_minutes"`
}

// appointmentTypes are the visit kinds the phone line can book.
var appointmentTypes = []AppointmentType{
	{"new_patient", "New Patient Visit", 60},
	{"follow_up", "Follow-up Visit", 30},
	{"physical", "Annual Physical", 45},
	{"urgent", "Urgent Care", 20},
	{"telehealth", "Telehealth Visit", 20},
	{"lab_review", "Lab Results Review", 15},
}

// AppointmentTypes lists the bookable visit kinds.
func AppointmentTypes() []AppointmentType {
	return append([]AppointmentType(nil), appointmentTypes...)
}

func lookupType(code string) (AppointmentType, error) {
	for _, t := range appointmentTypes {
		if t.Code == code {
			return t, nil
		}
	}
	return AppointmentType{}, fmt.Errorf("%w %q", ErrUnknownAppointmentType, code)
}

// BusinessHours is the bookable window, in minutes after midnight local
// time.
type BusinessHours struct {
	Open  int
	Close int
	Days  []time.Weekday
}

// DefaultHours is 08:00 to 17:00, Monday to Friday.
var DefaultHours = BusinessHours{
	Open:  8 * 60,
	Close: 17 * 60,
	Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
}

func (h BusinessHours) openOn(d time.Weekday) bool {
	for _, w := range h.Days {
		if w == d {
			return true
		}
	}
	return false
}

type SlotSearchParams struct {
	Date            string
	AppointmentType string
	ProviderID      string
	Max             int
}

type AvailableSlot struct {
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DayName         string    `json:"day_name"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Duration        int       `json:"duration_minutes"`
	AppointmentType string    `json:"appointment_type"`
	ProviderID      string    `json:"provider_id,omitempty"`
}

type BookingRequest struct {
	PatientID       string `json:"patient_id"`
	AppointmentType string `json:"appointment_type"`
	PreferredDate   string `json:"preferred_date"`
	PreferredTime   string `json:"preferred_time,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ProviderID      string `json:"provider_id,omitempty"`
}

type BookingConfirmation struct {
	AppointmentID    string    `json:"appointment_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	Status           string    `json:"status"`
	PatientID        string    `json:"patient_id"`
	AppointmentType  string    `json:"appointment_type,omitempty"`
	Description      string    `json:"description,omitempty"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Duration         int       `json:"duration_minutes,omitempty"`
	ProviderID       string    `json:"provider_id,omitempty"`
}
