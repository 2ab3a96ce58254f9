package policy

import (
	"regexp"
	"slices"
	"strings"
)

// Detection is one class of sensitive data found in outbound text.
type Detection struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Priority int      `json:"priority"`
	Count    int      `json:"count"`
	Matches  []string `json:"matches"`
}

// Report is the preflight verdict for one outbound message.
type Report struct {
	HasWarning bool        `json:"has_warning"`
	Detections []Detection `json:"detections"`
}

type detector struct {
	id       string
	label    string
	priority int
	marker   string
	pattern  *regexp.Regexp
	valid    func(string) bool
}

// Detectors run in order and mask what they matched, so a card number is
// never reported again as a phone number.
var detectors = []detector{
	{
		id:       "email",
		label:    "Email address",
		priority: 2,
		marker:   "[REDACTED_EMAIL]",
		pattern:  regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	},
	{
		id:       "iban",
		label:    "Bank account (IBAN)",
		priority: 1,
		marker:   "[REDACTED_IBAN]",
		pattern:  regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]){11,30}\b`),
		valid:    validIBAN,
	},
	{
		id:       "card",
		label:    "Payment card number",
		priority: 1,
		marker:   "[REDACTED_CARD]",
		pattern:  regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
		valid:    validLuhn,
	},
	{
		id:       "phone",
		label:    "Phone number",
		priority: 3,
		marker:   "[REDACTED_PHONE]",
		pattern:  regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`),
	},
}

// Scan inspects outbound text for sensitive data.
func Scan(text string) Report {
	report := Report{Detections: []Detection{}}
	work := text
	for _, d := range detectors {
		var matches []string
		work = d.pattern.ReplaceAllStringFunc(work, func(m string) string {
			if d.valid == nil || d.valid(m) {
				matches = append(matches, strings.TrimSpace(m))
			}
			return strings.Repeat("#", len(m))
		})
		if len(matches) == 0 {
			continue
		}
		report.Detections = append(report.Detections, Detection{
			ID:       d.id,
			Label:    d.label,
			Priority: d.priority,
			Count:    len(matches),
			Matches:  matches,
		})
	}
	slices.SortStableFunc(report.Detections, func(a, b Detection) int {
		return a.Priority - b.Priority
	})
	report.HasWarning = len(report.Detections) > 0
	return report
}

// Redact masks validated sensitive data with a marker per detector.
func Redact(text string) (redacted string, changed bool) {
	out := text
	for _, d := range detectors {
		out = d.pattern.ReplaceAllStringFunc(out, func(m string) string {
			if d.valid != nil && !d.valid(m) {
				return m
			}
			changed = true
			return d.marker
		})
	}
	return out, changed
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validLuhn(candidate string) bool {
	digits := digitsOnly(candidate)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
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

// validIBAN applies the ISO 13616 mod-97 check.
func validIBAN(candidate string) bool {
	iban := strings.ReplaceAll(candidate, " ", "")
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}
