package hipaa

import "strings"

// phiFieldNames are record keys whose values are always masked in full,
// whatever the value looks like. A key matches when it contains any of these
// names case-insensitively, so "patient_first_name" and "homePhone" match.
var phiFieldNames = []string{
	"ssn", "social_security_number",
	"mrn", "medical_record_number",
	"dob", "date_of_birth", "birth_date",
	"phone", "phone_number",
	"email", "email_address",
	"address", "street_address",
	"patient_name", "name", "full_name", "first_name", "last_name",
	"insurance_id", "policy_number",
	"credit_card", "card_number",
}

// PHIFieldNames returns a copy of the field-name set used by RedactMap.
func PHIFieldNames() []string {
	out := make([]string, len(phiFieldNames))
	copy(out, phiFieldNames)
	return out
}

// IsPHIFieldName reports whether a record key names a PHI field.
func IsPHIFieldName(key string) bool {
	k := strings.ToLower(key)
	for _, f := range phiFieldNames {
		if strings.Contains(k, f) {
			return true
		}
	}
	return false
}
