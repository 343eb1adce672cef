package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/caller"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/office"
	"github.com/OtotaO/hipaa-voice-agent/internal/domain/scheduling"
)

// Phone-line actions. The agent calls these as tools once it knows what the
// caller wants; they sit beside the clinician intents rather than in the
// router.
const (
	ActionStartSession      = "start_session"
	ActionVerifyPatient     = "verify_patient"
	ActionVerifyWithMRN     = "verify_with_mrn"
	ActionBookAppointment   = "book_appointment"
	ActionCancelAppointment = "cancel_appointment"
	ActionLeaveMessage      = "leave_message"
	ActionOfficeInformation = "office_information"
)

var (
	ErrUnknownAction     = errors.New("voice: unknown action")
	ErrInvalidActionArgs = errors.New("voice: invalid action arguments")
	ErrDeskUnavailable   = errors.New("voice: front desk backend not configured")
)

type CallerVerifier interface {
	StartSession(callID string) *caller.Session
	VerifyNameDOB(ctx context.Context, sessionID, fullName, dob string) (*caller.Result, error)
	VerifyMRN(ctx context.Context, sessionID, mrn, lastName string) (*caller.Result, error)
	PatientFor(sessionID string) (string, error)
}

type Scheduler interface {
	BookAppointment(ctx context.Context, req scheduling.BookingRequest) (*scheduling.BookingConfirmation, error)
	CancelAppointment(ctx context.Context, appointmentID, patientID, reason string) (*scheduling.BookingConfirmation, error)
}

type OfficeDesk interface {
	Info(infoType string) (any, error)
	InfoTypes() []string
	LeaveMessage(ctx context.Context, req office.MessageRequest) (*office.MessageReceipt, error)
}

// FrontDesk groups the patient-line services. Any of them may be nil.
type FrontDesk struct {
	Callers  CallerVerifier
	Schedule Scheduler
	Office   OfficeDesk
}

// WithFrontDesk enables the phone-line actions.
func (s *Service) WithFrontDesk(fd FrontDesk) *Service {
	s.desk = fd
	return s
}

type verifyArgs struct {
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"`
}

type mrnArgs struct {
	MRN      string `json:"mrn"`
	LastName string `json:"last_name"`
}

type bookArgs struct {
	AppointmentType string `json:"appointment_type"`
	PreferredDate   string `json:"preferred_date"`
	PreferredTime   string `json:"preferred_time"`
	Reason          string `json:"reason"`
	ProviderID      string `json:"provider_id"`
}

type cancelArgs struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type messageArgs struct {
	ProviderName string `json:"provider_name"`
	Message      string `json:"message"`
	Urgency      string `json:"urgency"`
}

type infoArgs struct {
	InfoType string `json:"info_type"`
}

// HandleAction carries out one phone-line action. Booking and cancelling
// act only for the patient a verified session belongs to.
func (s *Service) HandleAction(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	resp, err := s.action(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("action", req.Action).Msg("voice action failed")
		return nil, err
	}
	resp.Action = req.Action
	resp.Message = s.redactor.RedactString(resp.Message)
	s.logger.Info().Str("action", req.Action).Str("status", resp.Status).Msg("voice action handled")
	return resp, nil
}

func (s *Service) action(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	switch req.Action {
	case ActionStartSession:
		if s.desk.Callers == nil {
			return nil, ErrDeskUnavailable
		}
		sess := s.desk.Callers.StartSession(req.CallID)
		return &ActionResponse{
			Status:    StatusCompleted,
			SessionID: sess.ID,
			Message:   "To protect your privacy, please tell me your full name and date of birth.",
		}, nil

	case ActionVerifyPatient:
		var a verifyArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Callers == nil {
			return nil, ErrDeskUnavailable
		}
		res, err := s.desk.Callers.VerifyNameDOB(ctx, req.SessionID, a.FullName, a.DateOfBirth)
		return verificationResponse(req.SessionID, res, err)

	case ActionVerifyWithMRN:
		var a mrnArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Callers == nil {
			return nil, ErrDeskUnavailable
		}
		res, err := s.desk.Callers.VerifyMRN(ctx, req.SessionID, a.MRN, a.LastName)
		return verificationResponse(req.SessionID, res, err)

	case ActionBookAppointment:
		var a bookArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Schedule == nil {
			return nil, ErrDeskUnavailable
		}
		patientID, resp, err := s.verifiedPatient(req.SessionID)
		if resp != nil || err != nil {
			return resp, err
		}
		return s.book(ctx, patientID, a)

	case ActionCancelAppointment:
		var a cancelArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Schedule == nil {
			return nil, ErrDeskUnavailable
		}
		patientID, resp, err := s.verifiedPatient(req.SessionID)
		if resp != nil || err != nil {
			return resp, err
		}
		conf, err := s.desk.Schedule.CancelAppointment(ctx, a.AppointmentID, patientID, a.Reason)
		if err != nil {
			return nil, err
		}
		return &ActionResponse{Status: StatusCompleted, Message: "Your appointment has been cancelled.", Data: conf}, nil

	case ActionLeaveMessage:
		var a messageArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Office == nil {
			return nil, ErrDeskUnavailable
		}
		mr := office.MessageRequest{ProviderName: a.ProviderName, Message: a.Message, Urgency: a.Urgency}
		if s.desk.Callers != nil && req.SessionID != "" {
			// Unverified callers may still leave a message; it is just not
			// filed against a chart.
			mr.PatientID, _ = s.desk.Callers.PatientFor(req.SessionID)
		}
		receipt, err := s.desk.Office.LeaveMessage(ctx, mr)
		if err != nil {
			return nil, err
		}
		return &ActionResponse{
			Status:  StatusCompleted,
			Message: fmt.Sprintf("Message recorded. The provider will respond %s. Your reference number is %s.", receipt.ResponseTime, receipt.ReferenceNumber),
			Data:    receipt,
		}, nil

	case ActionOfficeInformation:
		var a infoArgs
		if err := decodeArgs(req.Args, &a); err != nil {
			return nil, err
		}
		if s.desk.Office == nil {
			return nil, ErrDeskUnavailable
		}
		data, err := s.desk.Office.Info(a.InfoType)
		if errors.Is(err, office.ErrUnknownInfoType) {
			return &ActionResponse{
				Status:  StatusAcknowledged,
				Message: "I can help with " + strings.Join(s.desk.Office.InfoTypes(), ", ") + ".",
			}, nil
		}
		if err != nil {
			return nil, err
		}
		// Office details are public and travel unredacted in Data.
		return &ActionResponse{Status: StatusCompleted, Message: "Here is our " + a.InfoType + " information.", Data: data}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAction, req.Action)
}

func (s *Service) verifiedPatient(sessionID string) (string, *ActionResponse, error) {
	if s.desk.Callers == nil {
		return "", nil, ErrDeskUnavailable
	}
	patientID, err := s.desk.Callers.PatientFor(sessionID)
	if errors.Is(err, caller.ErrNotVerified) || errors.Is(err, caller.ErrSessionNotFound) {
		return "", &ActionResponse{
			Status:  StatusVerificationRequired,
			Message: "I need to verify your identity first. Please tell me your full name and date of birth.",
		}, nil
	}
	return patientID, nil, err
}

func (s *Service) book(ctx context.Context, patientID string, a bookArgs) (*ActionResponse, error) {
	conf, err := s.desk.Schedule.BookAppointment(ctx, scheduling.BookingRequest{
		PatientID:       patientID,
		AppointmentType: a.AppointmentType,
		PreferredDate:   a.PreferredDate,
		PreferredTime:   a.PreferredTime,
		Reason:          a.Reason,
		ProviderID:      a.ProviderID,
	})
	var unavailable *scheduling.SlotUnavailableError
	if errors.As(err, &unavailable) {
		msg := "That time is not available."
		if len(unavailable.Alternatives) > 0 {
			opts := make([]string, 0, len(unavailable.Alternatives))
			for _, alt := range unavailable.Alternatives {
				opts = append(opts, alt.Start.Format("Monday, January 2 at 3:04 PM"))
			}
			msg += " The next openings are " + strings.Join(opts, "; ") + "."
		}
		return &ActionResponse{Status: StatusUnavailable, Message: msg, Data: unavailable.Alternatives}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ActionResponse{
		Status: StatusCompleted,
		Message: fmt.Sprintf("Your appointment is confirmed for %s. Your confirmation code is %s.",
			conf.Start.Format("Monday, January 2 at 3:04 PM"), conf.ConfirmationCode),
		Data: conf,
	}, nil
}

func verificationResponse(sessionID string, res *caller.Result, err error) (*ActionResponse, error) {
	if errors.Is(err, caller.ErrAttemptsExhausted) {
		return &ActionResponse{
			Status:  StatusTransferToStaff,
			Message: "I was not able to verify your identity. Let me transfer you to a staff member.",
			Data:    res,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if !res.Verified {
		return &ActionResponse{
			Status:    StatusNotVerified,
			SessionID: sessionID,
			Message:   fmt.Sprintf("I could not verify those details. You have %d attempts remaining.", res.AttemptsRemaining),
			Data:      res,
		}, nil
	}
	return &ActionResponse{
		Status:    StatusCompleted,
		SessionID: sessionID,
		Message:   "Thank you, your identity has been verified.",
		Data:      res,
	}, nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidActionArgs, err)
	}
	return nil
}
