package hipaa

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// fieldMaskLength is the fixed width used when a whole value is masked
// because of its key name.
const fieldMaskLength = 8

// RedactorConfig configures a Redactor. MaskChar defaults to "*".
type RedactorConfig struct {
	Enabled       bool
	MaskChar      string
	ExtraPatterns []PHIPattern
}

// ValidateMaskChar rejects mask characters that would break idempotence. A
// mask must be one rune and must not be a word character, or masked output
// could be re-detected as PHI on a second pass.
func ValidateMaskChar(mask string) error {
	if utf8.RuneCountInString(mask) != 1 {
		return fmt.Errorf("mask character must be a single character, got %q", mask)
	}
	if r, _ := utf8.DecodeRuneInString(mask); r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return fmt.Errorf("mask character must not be a letter, digit or underscore, got %q", mask)
	}
	return nil
}

// Detection is a single PHI match reported by DetectPHI. Offsets are byte
// offsets into the scanned string.
type Detection struct {
	Type   PHIType `json:"type"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Length int     `json:"length"`
}

// Redactor masks PHI in free text and structured records. All state is fixed
// at construction so a Redactor is safe for concurrent use.
type Redactor struct {
	enabled   bool
	mask      string
	patterns  []PHIPattern
	fieldMask string
}

// NewRedactor compiles the built-in patterns followed by any extra patterns.
func NewRedactor(cfg RedactorConfig) *Redactor {
	mask := cfg.MaskChar
	if mask == "" {
		mask = "*"
	}
	if r, _ := utf8.DecodeRuneInString(mask); r != utf8.RuneError {
		mask = string(r)
	}
	patterns := append(DefaultPatterns(), cfg.ExtraPatterns...)
	return &Redactor{
		enabled:   cfg.Enabled,
		mask:      mask,
		patterns:  patterns,
		fieldMask: strings.Repeat(mask, fieldMaskLength),
	}
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool { return r.enabled }

// RedactString masks every pattern match with the mask character repeated to
// the match's length, then masks names introduced by phrases like
// "my name is". Disabled redaction or empty input returns text unchanged.
func (r *Redactor) RedactString(text string) string {
	if !r.enabled || text == "" {
		return text
	}

	out := text
	for _, p := range r.patterns {
		out = r.replacePattern(out, p)
	}
	for _, re := range contextualNamePatterns {
		out = r.maskGroups(out, re)
	}
	return out
}

func (r *Redactor) replacePattern(text string, p PHIPattern) string {
	locs := p.Regex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locs {
		m := text[loc[0]:loc[1]]
		if p.Validate != nil && !p.Validate(m) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(strings.Repeat(r.mask, utf8.RuneCountInString(m)))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// maskGroups masks only capture group 1 of each match.
func (r *Redactor) maskGroups(text string, re *regexp.Regexp) string {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locs {
		if len(loc) < 4 || loc[2] < 0 {
			continue
		}
		b.WriteString(text[last:loc[2]])
		b.WriteString(strings.Repeat(r.mask, utf8.RuneCountInString(text[loc[2]:loc[3]])))
		last = loc[3]
	}
	b.WriteString(text[last:])
	return b.String()
}

// RedactMap returns a redacted copy of data. Values under PHI-named keys are
// replaced with a fixed-width mask whatever their type; strings go through
// RedactString; nested maps and slices are walked; other values pass through.
// The input is never mutated.
func (r *Redactor) RedactMap(data map[string]any) map[string]any {
	if !r.enabled || data == nil {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if IsPHIFieldName(k) {
			out[k] = r.fieldMask
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

// RedactValue applies the RedactMap policy to an arbitrary decoded JSON value.
func (r *Redactor) RedactValue(v any) any {
	if !r.enabled {
		return v
	}
	return r.redactValue(v)
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.RedactString(t)
	case map[string]any:
		return r.RedactMap(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			if IsPHIFieldName(k) {
				out[k] = r.fieldMask
			} else {
				out[k] = r.RedactString(s)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.redactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = r.RedactString(s)
		}
		return out
	default:
		return v
	}
}

// DetectPHI reports every pattern match in text without modifying it, in
// pattern order and then by offset.
func (r *Redactor) DetectPHI(text string) []Detection {
	detections := []Detection{}
	for _, p := range r.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			if p.Validate != nil && !p.Validate(text[loc[0]:loc[1]]) {
				continue
			}
			detections = append(detections, Detection{
				Type:   p.Type,
				Start:  loc[0],
				End:    loc[1],
				Length: loc[1] - loc[0],
			})
		}
	}
	return detections
}

// ContainsPHI reports whether any pattern matches text.
func (r *Redactor) ContainsPHI(text string) bool {
	for _, p := range r.patterns {
		for _, m := range p.Regex.FindAllString(text, -1) {
			if p.Validate == nil || p.Validate(m) {
				return true
			}
		}
	}
	return false
}
