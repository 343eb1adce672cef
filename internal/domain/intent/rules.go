package intent

import "regexp"

// Rule ties a case-insensitive pattern to the intent it signals and the
// confidence it carries before position and exact-match adjustment.
type Rule struct {
	Intent         Intent
	Pattern        *regexp.Regexp
	BaseConfidence float64
}

func rule(in Intent, pattern string, base float64) Rule {
	return Rule{Intent: in, Pattern: regexp.MustCompile(`(?i)` + pattern), BaseConfidence: base}
}

// DefaultRules returns the built-in rule table. Order matters: when two
// rules produce the same top score, the earlier rule wins.
func DefaultRules() []Rule {
	return []Rule{
		rule(AddToNoteSection, `add to (hpi|history|ros|review|exam|assessment|plan)`, 0.9),
		rule(AddToNoteSection, `document (that|the)`, 0.7),
		rule(AddToNoteSection, `note that`, 0.6),

		rule(OrderLabs, `order (a |an )?(\w+)`, 0.8),
		rule(OrderLabs, `(cbc|bmp|cmp|tsh|a1c|lipid|ua)`, 0.9),
		rule(OrderLabs, `(stat|routine|urgent) (lab|labs)`, 0.85),

		rule(CheckAllergies, `(any |check )?(drug |medication )?allerg`, 0.95),
		rule(CheckAllergies, `allergic to`, 0.9),
		rule(CheckAllergies, `adverse reaction`, 0.8),

		rule(RetrieveLabResults, `(show|pull|get|retrieve) (the )?(last|recent|latest)`, 0.85),
		rule(RetrieveLabResults, `(potassium|sodium|glucose|creatinine|hemoglobin)`, 0.8),
		rule(RetrieveLabResults, `lab (result|value|trend)`, 0.9),

		rule(CreateSOAPNote, `(create|generate|write|summarize).*(note|soap|apso|encounter)`, 0.95),
		rule(CreateSOAPNote, `summarize (today|this|the) (visit|encounter)`, 0.9),
		rule(CreateSOAPNote, `soap note`, 0.95),

		rule(NavigateChart, `(pull|show|open|navigate).*(echo|ekg|xray|ct|mri|imaging)`, 0.9),
		rule(NavigateChart, `(go to|open) (the )?(chart|notes|labs|meds)`, 0.85),
		rule(NavigateChart, `previous (note|visit|encounter)`, 0.8),

		rule(RefillMedication, `refill (\w+)`, 0.95),
		rule(RefillMedication, `renew (\w+)`, 0.9),
		rule(RefillMedication, `(30|60|90) day supply`, 0.8),

		rule(GenerateAVS, `(create|generate).*(avs|after.?visit|summary|instructions)`, 0.95),
		rule(GenerateAVS, `patient (instructions|education|handout)`, 0.85),
		rule(GenerateAVS, `discharge (summary|instructions)`, 0.9),

		rule(CalculateMDM, `(calculate|determine).*(mdm|e&m|em level|billing)`, 0.95),
		rule(CalculateMDM, `complexity level`, 0.85),
		rule(CalculateMDM, `billing code`, 0.8),
	}
}

// labVocabulary lists lab names recognized in OrderLabs utterances.
var labVocabulary = []string{
	"cbc", "bmp", "cmp", "tsh", "a1c", "hba1c",
	"lipid", "ua", "urinalysis", "pt", "ptt", "inr",
	"lfts", "ast", "alt", "alk phos", "bilirubin",
	"creatinine", "bun", "glucose", "potassium", "sodium",
	"chloride", "co2", "calcium", "magnesium", "phosphorus",
	"albumin", "protein", "hemoglobin", "hematocrit",
	"platelets", "wbc", "troponin", "bnp", "d-dimer",
	"esr", "crp", "b12", "folate", "iron", "ferritin",
}

// resultLabs are the analytes RetrieveLabResults recognizes, in priority order.
var resultLabs = []string{"potassium", "sodium", "glucose", "creatinine", "hemoglobin"}

// controlledSubstances are scheduled drugs that never skip confirmation.
var controlledSubstances = []string{
	"oxycodone", "hydrocodone", "alprazolam", "lorazepam",
	"adderall", "amphetamine", "dextroamphetamine",
	"ritalin", "methylphenidate", "tramadol", "morphine",
}

var (
	sectionRe      = regexp.MustCompile(`(?i)(hpi|history|ros|review|exam|assessment|plan)`)
	noteContentRe  = regexp.MustCompile(`(?i)[:,]\s*(.+)$|that\s+(.+)$`)
	priorityRe     = regexp.MustCompile(`(?i)(stat|routine|urgent)`)
	timeframeRe    = regexp.MustCompile(`(?i)(last|recent|latest)\s*(\d+)?`)
	medicationRe   = regexp.MustCompile(`(?i)refill\s+(\w+)`)
	doseRe         = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml)`)
	frequencyRe    = regexp.MustCompile(`(?i)(bid|tid|qid|daily|twice)`)
	quantityRe     = regexp.MustCompile(`(?i)(\d+)\s*day\s*supply`)
	refillCountRe  = regexp.MustCompile(`(?i)(\d+)\s*refill`)
	templateRe     = regexp.MustCompile(`(?i)(soap|apso)`)
	languageRe     = regexp.MustCompile(`(?i)(spanish|english|chinese)`)
	readingLevelRe = regexp.MustCompile(`(?i)(\d+)(?:st|nd|rd|th)?\s*grade`)

	spokenPHIRes = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`\b\d{7,}\b`),
		regexp.MustCompile(`(?i)(name|mrn|dob|ssn)`),
	}
)
