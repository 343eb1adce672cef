package fhirclient

import "strings"

// The types below are the subset of FHIR R4 the voice backend reads and
// writes. Unknown fields are dropped on decode.

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Label returns Text, or the first coding's display or code.
func (c CodeableConcept) Label() string {
	if c.Text != "" {
		return c.Text
	}
	for _, cd := range c.Coding {
		if cd.Display != "" {
			return cd.Display
		}
		if cd.Code != "" {
			return cd.Code
		}
	}
	return ""
}

// HasCode reports whether any coding carries code.
func (c CodeableConcept) HasCode(code string) bool {
	for _, cd := range c.Coding {
		if cd.Code == code {
			return true
		}
	}
	return false
}

type Identifier struct {
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Quantity struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
}

type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
	Gender       string       `json:"gender,omitempty"`
}

// MRN returns the value of the identifier typed "MR" (HL7 v2-0203).
func (p *Patient) MRN() string {
	for _, id := range p.Identifier {
		if id.Type != nil && id.Type.HasCode("MR") {
			return id.Value
		}
	}
	return ""
}

// FullName joins every given name and the family name of the first name
// entry.
func (p *Patient) FullName() string {
	if len(p.Name) == 0 {
		return ""
	}
	parts := append([]string{}, p.Name[0].Given...)
	if p.Name[0].Family != "" {
		parts = append(parts, p.Name[0].Family)
	}
	return strings.Join(parts, " ")
}

// FirstName returns the first given name of the first name entry.
func (p *Patient) FirstName() string {
	if len(p.Name) == 0 || len(p.Name[0].Given) == 0 {
		return ""
	}
	return p.Name[0].Given[0]
}

// LastName returns the family name of the first name entry.
func (p *Patient) LastName() string {
	if len(p.Name) == 0 {
		return ""
	}
	return p.Name[0].Family
}

type PayorReference struct {
	Reference  string      `json:"reference,omitempty"`
	Display    string      `json:"display,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
}

type Coverage struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id"`
	Status       string           `json:"status,omitempty"`
	SubscriberID string           `json:"subscriberId,omitempty"`
	Beneficiary  Reference        `json:"beneficiary"`
	Payor        []PayorReference `json:"payor,omitempty"`
}

// PayerID returns the first payor identifier value, which the clearinghouse
// uses as the trading partner service ID.
func (c *Coverage) PayerID() string {
	for _, p := range c.Payor {
		if p.Identifier != nil && p.Identifier.Value != "" {
			return p.Identifier.Value
		}
	}
	return ""
}

type AllergyReaction struct {
	Manifestation []CodeableConcept `json:"manifestation,omitempty"`
	Severity      string            `json:"severity,omitempty"`
}

type AllergyIntolerance struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id"`
	ClinicalStatus *CodeableConcept  `json:"clinicalStatus,omitempty"`
	Code           CodeableConcept   `json:"code"`
	Criticality    string            `json:"criticality,omitempty"`
	Reaction       []AllergyReaction `json:"reaction,omitempty"`
}

type Observation struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id"`
	Status            string            `json:"status,omitempty"`
	Code              CodeableConcept   `json:"code"`
	EffectiveDateTime string            `json:"effectiveDateTime,omitempty"`
	ValueQuantity     *Quantity         `json:"valueQuantity,omitempty"`
	ValueString       string            `json:"valueString,omitempty"`
	Interpretation    []CodeableConcept `json:"interpretation,omitempty"`
}

// IsNormal reports whether the observation carries the "N" interpretation.
// Results without an interpretation are not considered normal.
func (o *Observation) IsNormal() bool {
	for _, in := range o.Interpretation {
		if in.HasCode("N") {
			return true
		}
	}
	return false
}

type Dosage struct {
	Text string `json:"text,omitempty"`
}

type DispenseRequest struct {
	NumberOfRepeatsAllowed *int      `json:"numberOfRepeatsAllowed,omitempty"`
	Quantity               *Quantity `json:"quantity,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

type MedicationRequest struct {
	ResourceType              string           `json:"resourceType"`
	ID                        string           `json:"id,omitempty"`
	Status                    string           `json:"status"`
	Intent                    string           `json:"intent"`
	MedicationCodeableConcept CodeableConcept  `json:"medicationCodeableConcept"`
	Subject                   Reference        `json:"subject"`
	Requester                 *Reference       `json:"requester,omitempty"`
	AuthoredOn                string           `json:"authoredOn,omitempty"`
	DosageInstruction         []Dosage         `json:"dosageInstruction,omitempty"`
	DispenseRequest           *DispenseRequest `json:"dispenseRequest,omitempty"`
	Note                      []Annotation     `json:"note,omitempty"`
}

type AppointmentParticipant struct {
	Actor    Reference `json:"actor"`
	Required string    `json:"required,omitempty"`
	Status   string    `json:"status"`
}

type Appointment struct {
	ResourceType      string                   `json:"resourceType"`
	ID                string                   `json:"id,omitempty"`
	Status            string                   `json:"status"`
	CancelationReason *CodeableConcept         `json:"cancelationReason,omitempty"`
	AppointmentType   *CodeableConcept         `json:"appointmentType,omitempty"`
	Description       string                   `json:"description,omitempty"`
	Start             string                   `json:"start,omitempty"`
	End               string                   `json:"end,omitempty"`
	MinutesDuration   int                      `json:"minutesDuration,omitempty"`
	Participant       []AppointmentParticipant `json:"participant"`
}

// HasParticipant reports whether ref (e.g. "Patient/123") takes part.
func (a *Appointment) HasParticipant(ref string) bool {
	for _, p := range a.Participant {
		if p.Actor.Reference == ref {
			return true
		}
	}
	return false
}

type CommunicationPayload struct {
	ContentString string `json:"contentString"`
}

type Communication struct {
	ResourceType string                 `json:"resourceType"`
	ID           string                 `json:"id,omitempty"`
	Status       string                 `json:"status"`
	Category     []CodeableConcept      `json:"category,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	Subject      *Reference             `json:"subject,omitempty"`
	Topic        *CodeableConcept       `json:"topic,omitempty"`
	Recipient    []Reference            `json:"recipient,omitempty"`
	Payload      []CommunicationPayload `json:"payload,omitempty"`
	Sent         string                 `json:"sent,omitempty"`
}

type Task struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Status       string           `json:"status"`
	Intent       string           `json:"intent"`
	Priority     string           `json:"priority,omitempty"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Description  string           `json:"description,omitempty"`
	For          *Reference       `json:"for,omitempty"`
	Focus        *Reference       `json:"focus,omitempty"`
}

type BundleEntry[T any] struct {
	Resource T `json:"resource"`
}

type Bundle[T any] struct {
	ResourceType string           `json:"resourceType"`
	Total        *int             `json:"total,omitempty"`
	Entry        []BundleEntry[T] `json:"entry,omitempty"`
}

// Resources flattens the bundle entries.
func (b *Bundle[T]) Resources() []T {
	out := make([]T, 0, len(b.Entry))
	for _, e := range b.Entry {
		out = append(out, e.Resource)
	}
	return out
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

func (o *OperationOutcome) summary() string {
	parts := make([]string, 0, len(o.Issue))
	for _, i := range o.Issue {
		if i.Diagnostics != "" {
			parts = append(parts, i.Diagnostics)
		} else {
			parts = append(parts, i.Code)
		}
	}
	return strings.Join(parts, "; ")
}
