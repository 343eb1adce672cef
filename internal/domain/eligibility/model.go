package eligibility

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Coverage statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusUnknown  = "unknown"
)

var (
	ErrEligibilityUnavailable = errors.New("eligibility: clearinghouse unavailable")
	ErrInvalidNPI             = errors.New("eligibility: invalid provider NPI")
	ErrCheckNotFound          = errors.New("eligibility: check not found")
)

// Result is one eligibility check as returned to callers and stored in
// eligibility_check. RawResponse is the payer payload; it is sealed at rest
// and never serialized to API responses.
type Result struct {
	ID            uuid.UUID      `json:"id"`
	PatientID     string         `json:"patient_id"`
	ProviderNPI   string         `json:"-"`
	ControlNumber string         `json:"-"`
	Status        string         `json:"status"`
	PlanName      *string        `json:"plan_name"`
	Copay         *string        `json:"copay"`
	Deductible    *string        `json:"deductible"`
	OOPMax        *string        `json:"oop_max"`
	Cached        bool           `json:"cached"`
	CheckDate     time.Time      `json:"check_date"`
	RawResponse   map[string]any `json:"-"`
}

// Metrics summarizes checks over a trailing window.
type Metrics struct {
	PeriodDays       int `json:"period_days"`
	TotalChecks      int `json:"total_checks"`
	UniquePatients   int `json:"unique_patients"`
	ActiveCoverage   int `json:"active_coverage"`
	InactiveCoverage int `json:"inactive_coverage"`
	UnknownCoverage  int `json:"unknown_coverage"`
}
