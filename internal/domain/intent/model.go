package intent

import "encoding/json"

// Intent is the clinical purpose of an utterance.
type Intent string

const (
	AddToNoteSection   Intent = "AddToNoteSection"
	OrderLabs          Intent = "OrderLabs"
	CheckAllergies     Intent = "CheckAllergies"
	RetrieveLabResults Intent = "RetrieveLabResults"
	CreateSOAPNote     Intent = "CreateSOAPNote"
	NavigateChart      Intent = "NavigateChart"
	RefillMedication   Intent = "RefillMedication"
	GenerateAVS        Intent = "GenerateAVS"
	CalculateMDM       Intent = "CalculateMDM"
	Unknown            Intent = "Unknown"
)

// All returns every known intent in rule-table order, Unknown last.
func All() []Intent {
	return []Intent{
		AddToNoteSection, OrderLabs, CheckAllergies, RetrieveLabResults,
		CreateSOAPNote, NavigateChart, RefillMedication, GenerateAVS,
		CalculateMDM, Unknown,
	}
}

// Result is the outcome of routing one utterance.
type Result struct {
	Intent               Intent          `json:"intent"`
	Confidence           float64         `json:"confidence"`
	Entities             Entities        `json:"entities"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	SafetyFlags          map[string]bool `json:"safety_flags"`
}

// Entities is the intent-specific structured data pulled from an utterance.
// The set of implementations is closed: each intent yields exactly one
// concrete type.
type Entities interface {
	entities()
}

// NoteSectionEntities parameterizes AddToNoteSection.
type NoteSectionEntities struct {
	Section string `json:"section,omitempty"`
	Content string `json:"content,omitempty"`
}

// LabOrderEntities parameterizes OrderLabs. TestNames is never nil.
type LabOrderEntities struct {
	TestNames []string `json:"test_names"`
	Priority  string   `json:"priority"`
}

// LabResultEntities parameterizes RetrieveLabResults.
type LabResultEntities struct {
	LabName   string `json:"lab_name,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// RefillEntities parameterizes RefillMedication.
type RefillEntities struct {
	Medication string `json:"medication,omitempty"`
	Dose       string `json:"dose,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Quantity   *int   `json:"quantity,omitempty"`
	Refills    *int   `json:"refills,omitempty"`
}

// SOAPNoteEntities parameterizes CreateSOAPNote.
type SOAPNoteEntities struct {
	NoteTemplate string `json:"note_template,omitempty"`
}

// AVSEntities parameterizes GenerateAVS.
type AVSEntities struct {
	Language     string `json:"language,omitempty"`
	ReadingLevel string `json:"reading_level,omitempty"`
}

// MDMEntities parameterizes CalculateMDM. Both fields carry the
// "per note" sentinel, meaning the values are derived from the full note.
type MDMEntities struct {
	Problems     string `json:"problems"`
	DataReviewed string `json:"data_reviewed"`
}

// NoEntities is used by intents that carry no structured data.
type NoEntities struct{}

func (NoteSectionEntities) entities() {}
func (LabOrderEntities) entities()    {}
func (LabResultEntities) entities()   {}
func (RefillEntities) entities()      {}
func (SOAPNoteEntities) entities()    {}
func (AVSEntities) entities()         {}
func (MDMEntities) entities()         {}
func (NoEntities) entities()          {}

// PerNote is the CalculateMDM sentinel value.
const PerNote = "per note"

// EntityFields flattens entities into a generic map, matching their JSON
// encoding. Used where a record-shaped value is needed (audit details,
// redaction).
func EntityFields(e Entities) map[string]any {
	out := map[string]any{}
	if e == nil {
		return out
	}
	b, err := json.Marshal(e)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// auditKeys renames entity fields whose JSON names collide with PHI key
// names in the audit redactor but whose values are clinical vocabulary.
var auditKeys = map[string]string{
	"lab_name": "analyte",
}

// AuditFields is EntityFields with keys renamed for audit details, so
// analytes survive key-based PHI masking.
func AuditFields(e Entities) map[string]any {
	out := EntityFields(e)
	for from, to := range auditKeys {
		if v, ok := out[from]; ok {
			delete(out, from)
			out[to] = v
		}
	}
	return out
}
