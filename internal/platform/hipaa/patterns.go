package hipaa

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PHIType labels the category of identifier a pattern detects.
type PHIType string

const (
	PHISSN        PHIType = "ssn"
	PHIMRN        PHIType = "mrn"
	PHIDOB        PHIType = "dob"
	PHIPhone      PHIType = "phone"
	PHIEmail      PHIType = "email"
	PHICreditCard PHIType = "credit_card"
	PHIAddress    PHIType = "address"
	PHIInsurance  PHIType = "insurance"
	PHIDEA        PHIType = "dea"
	PHINPI        PHIType = "npi"
	PHIStateID    PHIType = "state_id"
)

// PHIPattern is a compiled detection rule. Validate, when set, must accept a
// match before it counts.
type PHIPattern struct {
	Type     PHIType
	Regex    *regexp.Regexp
	Validate func(match string) bool
}

// DefaultPatterns returns the built-in rules in application order. Labeled
// identifiers (MRN, insurance, state ID) require a separator or a digit after
// the label so plain words such as "identity" or "members" are left alone.
func DefaultPatterns() []PHIPattern {
	return []PHIPattern{
		{Type: PHISSN, Regex: regexp.MustCompile(`(?i)\b(?:\d{3}-\d{2}-\d{4}|\d{3}\s\d{2}\s\d{4}|\d{9})\b`)},
		{Type: PHIMRN, Regex: regexp.MustCompile(`(?i)\b(?:MRN|Medical Record Number|Patient ID)(?:[\s:#]*\d|[\s:#]+[\w-])[\w-]*\b`)},
		{Type: PHIDOB, Regex: regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`)},
		{Type: PHIPhone, Regex: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
		{Type: PHIEmail, Regex: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{Type: PHICreditCard, Regex: regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
		{Type: PHIAddress, Regex: regexp.MustCompile(`(?i)\d+\s+[\w\s]+(?:street|st|avenue|ave|road|rd|highway|hwy|lane|ln|drive|dr|court|ct|place|pl|boulevard|blvd)\b`)},
		{Type: PHIInsurance, Regex: regexp.MustCompile(`(?i)\b(?:policy|member|subscriber|group)(?:[\s#:]*\d|[\s#:]+[\w-])[\w-]*\b`)},
		{Type: PHIDEA, Regex: regexp.MustCompile(`\b[A-Z]{2}\d{7}\b`)},
		{Type: PHINPI, Regex: regexp.MustCompile(`\b\d{10}\b`), Validate: ValidNPI},
		{Type: PHIStateID, Regex: regexp.MustCompile(`(?i)\b(?:DL|License|ID)(?:[\s#:]*\d|[\s#:]+[\w-])[\w-]*\b`)},
	}
}

// contextualName patterns capture a spoken name after an introducing phrase.
// Only the capture group is masked. Letters are matched with \p{L} so
// accented names are masked whole.
var contextualNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:my|patient|caller|your)\s+name\s+is\s+([\p{L}\p{N}_]+(?:\s+[\p{L}\p{N}_]+)*)`),
	regexp.MustCompile(`(?i)(?:I am|I'm|This is)\s+([\p{L}\p{N}_]+(?:\s+[\p{L}\p{N}_]+)*)`),
	regexp.MustCompile(`(?i)(?:calling for|regarding)\s+([\p{L}\p{N}_]+(?:\s+[\p{L}\p{N}_]+)*)`),
}

// ValidNPI reports whether a 10-digit string carries a valid NPI check digit
// (Luhn over the "80840" card-issuer prefix).
func ValidNPI(s string) bool {
	if len(s) != 10 {
		return false
	}
	full := "80840" + s
	sum := 0
	double := false
	for i := len(full) - 1; i >= 0; i-- {
		c := full[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// PatternFile is the on-disk format for operator-defined patterns.
type PatternFile struct {
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
}

// ExtraPatternDef defines one custom pattern.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// LoadPatternFile reads extra PHI patterns from a YAML file. An empty path or
// a missing file yields no patterns and no error.
func LoadPatternFile(path string) ([]PHIPattern, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read phi pattern file: %w", err)
	}

	var pf PatternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse phi pattern file: %w", err)
	}
	return CompilePatterns(pf.ExtraPatterns)
}

// CompilePatterns validates and compiles operator-defined patterns.
func CompilePatterns(defs []ExtraPatternDef) ([]PHIPattern, error) {
	var out []PHIPattern
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		out = append(out, PHIPattern{Type: PHIType(def.Name), Regex: re})
	}
	return out, nil
}
