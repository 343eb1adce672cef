package caller

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("caller: verification session not found or expired")
	ErrNotVerified        = errors.New("caller: caller identity is not verified")
	ErrAttemptsExhausted  = errors.New("caller: verification attempts exhausted")
	ErrIncompleteIdentity = errors.New("caller: identity details are incomplete")
	ErrInvalidDate        = errors.New("caller: unrecognised date of birth")
)

// Verification methods.
const (
	MethodNameDOB = "name_dob"
	MethodMRN     = "mrn_lastname"
)

// Session tracks one call's identity checks. The deadline runs from
// creation and is not extended by attempts.
type Session struct {
	ID        string
	CallID    string
	Created   time.Time
	Attempts  int
	Verified  bool
	PatientID string
	Method    string
}

// Result is what the phone line learns about an attempt. The MRN is never
// echoed back.
type Result struct {
	Verified          bool   `json:"verified"`
	PatientID         string `json:"patient_id,omitempty"`
	Method            string `json:"verification_method"`
	Reason            string `json:"reason,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"02/01/2006",
	"2006/01/02",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
}

// NormalizeDate parses a spoken or typed date of birth into YYYY-MM-DD.
// Month-first layouts are tried before day-first ones.
func NormalizeDate(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}
