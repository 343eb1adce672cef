package voice

import (
	"fmt"
	"strings"

	"github.com/OtotaO/hipaa-voice-agent/internal/domain/intent"
)

// ReadBack phrases a high-risk action for spoken confirmation.
func ReadBack(res intent.Result) string {
	switch e := res.Entities.(type) {
	case intent.LabOrderEntities:
		tests := "the requested labs"
		if len(e.TestNames) > 0 {
			tests = strings.Join(e.TestNames, ", ")
		}
		return fmt.Sprintf("Please confirm: order %s, priority %s.", tests, e.Priority)
	case intent.RefillEntities:
		var b strings.Builder
		b.WriteString("Please confirm: refill ")
		if e.Medication != "" {
			b.WriteString(e.Medication)
		} else {
			b.WriteString("the medication")
		}
		if e.Dose != "" {
			b.WriteString(" " + e.Dose)
		}
		if e.Frequency != "" {
			b.WriteString(" " + strings.ToLower(e.Frequency))
		}
		if e.Quantity != nil {
			fmt.Fprintf(&b, ", %d day supply", *e.Quantity)
		}
		if e.Refills != nil {
			fmt.Fprintf(&b, ", %d refills", *e.Refills)
		}
		b.WriteString(".")
		return b.String()
	}
	return fmt.Sprintf("Please confirm: %s.", res.Intent)
}
