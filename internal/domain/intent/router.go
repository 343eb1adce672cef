package intent

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Router classifies utterances against a fixed rule table. It holds no
// mutable state and is safe for concurrent use.
type Router struct {
	rules []Rule
}

// NewRouter builds a router over DefaultRules.
func NewRouter() *Router {
	return NewRouterWithRules(DefaultRules())
}

// NewRouterWithRules builds a router over a caller-supplied rule table.
func NewRouterWithRules(rules []Rule) *Router {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Router{rules: cp}
}

// Rules returns a copy of the router's rule table.
func (r *Router) Rules() []Rule {
	cp := make([]Rule, len(r.rules))
	copy(cp, r.rules)
	return cp
}

// Route classifies text. The highest-scoring rule decides the intent; on a
// tie the rule that appears first in the table wins. If nothing matches the
// result is Unknown with zero confidence, no entities and no flags.
func (r *Router) Route(text string) Result {
	normalized := strings.TrimSpace(strings.ToLower(text))
	textLen := utf8.RuneCountInString(text)
	if textLen < 1 {
		textLen = 1
	}

	best := Unknown
	bestScore := 0.0
	for _, rl := range r.rules {
		loc := rl.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		score := matchScore(text, loc, textLen, normalized, rl.BaseConfidence)
		if score > bestScore {
			bestScore = score
			best = rl.Intent
		}
	}

	if best == Unknown {
		return Result{
			Intent:      Unknown,
			Confidence:  0,
			Entities:    NoEntities{},
			SafetyFlags: map[string]bool{},
		}
	}

	ents := ExtractEntities(best, text)
	return Result{
		Intent:               best,
		Confidence:           bestScore,
		Entities:             ents,
		RequiresConfirmation: RequiresConfirmation(best, ents),
		SafetyFlags:          SafetyFlags(best, text),
	}
}

// matchScore applies the position and exact-match adjustments. A match at
// offset 0 keeps the full base weight; one at the very end loses 20%.
func matchScore(text string, loc []int, textLen int, normalized string, base float64) float64 {
	start := utf8.RuneCountInString(text[:loc[0]])
	factor := 1.0 - (float64(start)/float64(textLen))*0.2
	if strings.ToLower(text[loc[0]:loc[1]]) == normalized {
		factor *= 1.2
	}
	return math.Min(base*factor, 1.0)
}

// ExtractEntities pulls the structured fields for the given intent out of
// text. It only reports values that appear in the text, apart from the
// CalculateMDM sentinel and the OrderLabs default priority.
func ExtractEntities(in Intent, text string) Entities {
	switch in {
	case AddToNoteSection:
		return extractNoteSection(text)
	case OrderLabs:
		return extractLabOrder(text)
	case RetrieveLabResults:
		return extractLabResult(text)
	case RefillMedication:
		return extractRefill(text)
	case CreateSOAPNote:
		var e SOAPNoteEntities
		if m := templateRe.FindStringSubmatch(text); m != nil {
			e.NoteTemplate = strings.ToUpper(m[1])
		}
		return e
	case GenerateAVS:
		return extractAVS(text)
	case CalculateMDM:
		return MDMEntities{Problems: PerNote, DataReviewed: PerNote}
	default:
		return NoEntities{}
	}
}

func extractNoteSection(text string) NoteSectionEntities {
	var e NoteSectionEntities
	if m := sectionRe.FindStringSubmatch(text); m != nil {
		e.Section = strings.ToUpper(m[1])
	}
	if m := noteContentRe.FindStringSubmatch(text); m != nil {
		content := m[1]
		if content == "" {
			content = m[2]
		}
		e.Content = strings.TrimSpace(content)
	}
	return e
}

func extractLabOrder(text string) LabOrderEntities {
	lower := strings.ToLower(text)

	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	for _, lab := range labVocabulary {
		if i := strings.Index(lower, lab); i >= 0 {
			hits = append(hits, hit{name: lab, pos: i})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	e := LabOrderEntities{TestNames: make([]string, 0, len(hits)), Priority: "routine"}
	for _, h := range hits {
		e.TestNames = append(e.TestNames, strings.ToUpper(h.name))
	}
	if m := priorityRe.FindStringSubmatch(text); m != nil {
		e.Priority = strings.ToLower(m[1])
	}
	return e
}

func extractLabResult(text string) LabResultEntities {
	var e LabResultEntities
	lower := strings.ToLower(text)
	for _, lab := range resultLabs {
		if strings.Contains(lower, lab) {
			e.LabName = lab
			break
		}
	}
	if m := timeframeRe.FindStringSubmatch(text); m != nil {
		if m[2] != "" {
			e.Timeframe = fmt.Sprintf("last %s results", m[2])
		} else {
			e.Timeframe = "latest"
		}
	}
	return e
}

func extractRefill(text string) RefillEntities {
	var e RefillEntities
	if m := medicationRe.FindStringSubmatch(text); m != nil {
		e.Medication = m[1]
	}
	if m := doseRe.FindStringSubmatch(text); m != nil {
		e.Dose = m[1] + " " + m[2]
	}
	if m := frequencyRe.FindStringSubmatch(text); m != nil {
		e.Frequency = strings.ToUpper(m[1])
	}
	if m := quantityRe.FindStringSubmatch(text); m != nil {
		e.Quantity = atoiPtr(m[1])
	}
	if m := refillCountRe.FindStringSubmatch(text); m != nil {
		e.Refills = atoiPtr(m[1])
	}
	return e
}

func extractAVS(text string) AVSEntities {
	var e AVSEntities
	if m := languageRe.FindStringSubmatch(text); m != nil {
		lang := []rune(strings.ToLower(m[1]))
		e.Language = string(lang[:2])
	}
	if m := readingLevelRe.FindStringSubmatch(text); m != nil {
		e.ReadingLevel = m[1] + "th grade"
	}
	return e
}

// atoiPtr returns nil for digit runs too long to fit an int.
func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// RequiresConfirmation reports whether an action must be read back and
// confirmed before it runs. Lab orders and refills always need it; a refill
// of a controlled substance needs it regardless of category.
func RequiresConfirmation(in Intent, e Entities) bool {
	switch in {
	case OrderLabs, RefillMedication:
		return true
	}
	if rf, ok := e.(RefillEntities); ok && IsControlledSubstance(rf.Medication) {
		return true
	}
	return false
}

// IsControlledSubstance reports whether a medication name contains a known
// scheduled drug name.
func IsControlledSubstance(medication string) bool {
	med := strings.ToLower(medication)
	if med == "" {
		return false
	}
	for _, c := range controlledSubstances {
		if strings.Contains(med, c) {
			return true
		}
	}
	return false
}

// SafetyFlags derives the guardrail flags for a routed intent. Unknown gets
// none.
func SafetyFlags(in Intent, text string) map[string]bool {
	flags := map[string]bool{}
	if in == Unknown {
		return flags
	}

	for _, re := range spokenPHIRes {
		if re.MatchString(text) {
			flags["phi_audio_policy_enforced"] = true
			break
		}
	}

	switch in {
	case OrderLabs:
		flags["order_context_present"] = true
		flags["confirmation_fired"] = true
	case RefillMedication:
		flags["allergy_check"] = true
		flags["dose_range_check"] = true
		flags["confirmation_fired"] = true
	case CreateSOAPNote:
		flags["no_hallucinations"] = true
		flags["sources_cited"] = true
	case CalculateMDM:
		flags["mdm_rules_applied"] = true
	case GenerateAVS:
		flags["no_unverified_medical_advice"] = true
	}
	return flags
}
