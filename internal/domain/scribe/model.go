package scribe

import "time"

// ClinicalNote is a structured SOAP note generated from an encounter
// transcript.
type ClinicalNote struct {
	EncounterID             string    `json:"encounter_id"`
	Timestamp               time.Time `json:"timestamp"`
	ChiefComplaint          string    `json:"chief_complaint"`
	HistoryOfPresentIllness string    `json:"history_of_present_illness"`
	ReviewOfSystems         string    `json:"review_of_systems"`
	PhysicalExam            string    `json:"physical_exam"`
	Assessment              string    `json:"assessment"`
	Plan                    string    `json:"plan"`
	ICD10Codes              []string  `json:"icd10_codes"`
	CPTCodes                []string  `json:"cpt_codes"`
	FollowUp                string    `json:"follow_up"`
	ManualReviewRequired    bool      `json:"manual_review_required"`
}

// AfterVisitSummary is the patient-facing summary of a note.
type AfterVisitSummary struct {
	EncounterID  string    `json:"encounter_id"`
	Language     string    `json:"language"`
	ReadingLevel string    `json:"reading_level"`
	Text         string    `json:"text"`
	Generated    time.Time `json:"generated"`
}

// PlaceholderComplaint marks a note the model could not produce.
const PlaceholderComplaint = "Error generating note - manual review required"
