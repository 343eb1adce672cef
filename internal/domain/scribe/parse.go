package scribe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	icd10Code = regexp.MustCompile(`[A-Z]\d{2,}\.?\d*`)
	// CPT category I codes are five digits; category II/III end in F or T.
	cptCode = regexp.MustCompile(`\b\d{4}[0-9FT]\b|[A-Z]\d{2,}\.?\d*`)

	sectionHeader = regexp.MustCompile(`(?m)^[ \t]*(?:\d+\.[ \t]*)?(?:\*\*)?(CHIEF COMPLAINT|HISTORY OF PRESENT ILLNESS|REVIEW OF SYSTEMS|PHYSICAL EXAM(?:INATION)?|ASSESSMENT|PLAN|ICD-?10 CODES|CPT CODES|FOLLOW[- ]UP)(?:\*\*)?[ \t]*:?`)
)

// noteFields is the model's reply before it is stamped into a ClinicalNote.
type noteFields struct {
	ChiefComplaint          string
	HistoryOfPresentIllness string
	ReviewOfSystems         string
	PhysicalExam            string
	Assessment              string
	Plan                    string
	ICD10Codes              []string
	CPTCodes                []string
	FollowUp                string
}

// parseReply reads the first JSON object in reply, falling back to
// header-delimited text.
func parseReply(reply string) noteFields {
	if f, ok := parseJSONReply(reply); ok {
		return f
	}
	return parseTextReply(reply)
}

func parseJSONReply(reply string) (noteFields, bool) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return noteFields{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return noteFields{}, false
	}
	return noteFields{
		ChiefComplaint:          textField(raw["chief_complaint"]),
		HistoryOfPresentIllness: textField(raw["history_of_present_illness"]),
		ReviewOfSystems:         textField(raw["review_of_systems"]),
		PhysicalExam:            textField(raw["physical_exam"]),
		Assessment:              textField(raw["assessment"]),
		Plan:                    textField(raw["plan"]),
		ICD10Codes:              codeField(raw["icd10_codes"], icd10Code),
		CPTCodes:                codeField(raw["cpt_codes"], cptCode),
		FollowUp:                textField(raw["follow_up"]),
	}, true
}

// textField accepts the string the prompt asks for, and tolerates lists or
// objects some models return for sections like plan.
func textField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := textField(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// codeField returns codes from a list of strings, a list of
// {"code": ...} objects, or a free-text string.
func codeField(v any, re *regexp.Regexp) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			switch c := item.(type) {
			case string:
				out = append(out, extractCodes(c, re)...)
			case map[string]any:
				if code, ok := c["code"].(string); ok {
					out = append(out, extractCodes(code, re)...)
				}
			}
		}
	case string:
		out = extractCodes(t, re)
	}
	return dedupe(out)
}

func extractCodes(s string, re *regexp.Regexp) []string {
	return re.FindAllString(s, -1)
}

func parseTextReply(text string) noteFields {
	var f noteFields
	seen := map[string]bool{}
	matches := sectionHeader.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		header := text[m[2]:m[3]]
		key := canonicalHeader(header)
		if seen[key] {
			continue
		}
		seen[key] = true

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.Trim(text[m[1]:end], ": \t\r\n*")

		switch key {
		case "CHIEF COMPLAINT":
			f.ChiefComplaint = content
		case "HISTORY OF PRESENT ILLNESS":
			f.HistoryOfPresentIllness = content
		case "REVIEW OF SYSTEMS":
			f.ReviewOfSystems = content
		case "PHYSICAL EXAM":
			f.PhysicalExam = content
		case "ASSESSMENT":
			f.Assessment = content
		case "PLAN":
			f.Plan = content
		case "ICD10 CODES":
			f.ICD10Codes = dedupe(extractCodes(content, icd10Code))
		case "CPT CODES":
			f.CPTCodes = dedupe(extractCodes(content, cptCode))
		case "FOLLOW UP":
			f.FollowUp = content
		}
	}
	return f
}

func canonicalHeader(h string) string {
	h = strings.ReplaceAll(h, "-", " ")
	switch {
	case strings.HasPrefix(h, "PHYSICAL EXAM"):
		return "PHYSICAL EXAM"
	case strings.HasPrefix(h, "ICD"):
		return "ICD10 CODES"
	}
	return h
}

func dedupe(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
