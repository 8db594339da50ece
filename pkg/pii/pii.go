// Package pii detects and masks personally identifiable information in free
// text before it is persisted, logged, or forwarded to a language model.
//
// Detection is pure pattern matching with no stored state: identical input
// always yields identical findings and identical masked output, so the engine
// is safe to share across any number of concurrent call sessions.
package pii

import (
	"regexp"
	"sort"
)

// RuleSetVersion identifies the active pattern rule set. It is recorded on
// audit events so stored masked text can be interpreted later.
const RuleSetVersion = "2025.1"

// Kind classifies a detected piece of PII.
type Kind string

const (
	KindSSN           Kind = "ssn"
	KindPhone         Kind = "phone"
	KindEmail         Kind = "email"
	KindCreditCard    Kind = "credit-card"
	KindAccountNumber Kind = "account-number"
)

// Finding is one detected span of PII. Findings are consumed immediately to
// produce masked text and are never persisted on their own.
type Finding struct {
	Kind        Kind
	Start       int    // byte offset of the match in the source text
	End         int    // byte offset one past the end of the match
	Replacement string // fixed placeholder carrying only the kind
}

// rule pairs a PII kind with one of its patterns. Rules are ordered most
// specific first; an earlier rule claims its span and later rules cannot
// produce overlapping findings.
type rule struct {
	kind Kind
	re   *regexp.Regexp
}

var rules = []rule{
	{KindCreditCard, regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{KindSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{KindPhone, regexp.MustCompile(`\(\d{3}\)\s*\d{3}-\d{4}`)},
	{KindPhone, regexp.MustCompile(`\+\d{10,14}\b`)},
	{KindPhone, regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)},
	{KindEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{KindPhone, regexp.MustCompile(`\b\d{10}\b`)},
	{KindSSN, regexp.MustCompile(`\b\d{9}\b`)},
	{KindAccountNumber, regexp.MustCompile(`\b\d{8,12}\b`)},
}

// placeholders are fixed per kind and contain no digits, which keeps Mask
// idempotent and avoids leaking the original value's length or structure.
var placeholders = map[Kind]string{
	KindSSN:           "[ssn-redacted]",
	KindPhone:         "[phone-redacted]",
	KindEmail:         "[email-redacted]",
	KindCreditCard:    "[credit-card-redacted]",
	KindAccountNumber: "[account-number-redacted]",
}

// Engine detects and masks PII. The zero value is not usable; construct with
// New. The engine holds only compiled patterns and may be shared freely.
type Engine struct {
	rules []rule
}

// New creates an engine with the built-in rule set.
func New() *Engine {
	return &Engine{rules: rules}
}

// Detect scans text and returns every non-overlapping PII finding, ordered by
// position. Where patterns overlap, the more specific rule wins: a formatted
// SSN is reported as an SSN, not as an account number.
func (e *Engine) Detect(text string) []Finding {
	var findings []Finding

	for _, r := range e.rules {
		for _, m := range r.re.FindAllStringIndex(text, -1) {
			if overlapsAny(findings, m[0], m[1]) {
				continue
			}
			findings = append(findings, Finding{
				Kind:        r.kind,
				Start:       m[0],
				End:         m[1],
				Replacement: placeholders[r.kind],
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}

// Mask replaces every detected PII span with its kind placeholder. Masking an
// already-masked string is a no-op.
func (e *Engine) Mask(text string) string {
	findings := e.Detect(text)
	if len(findings) == 0 {
		return text
	}

	out := make([]byte, 0, len(text))
	prev := 0
	for _, f := range findings {
		out = append(out, text[prev:f.Start]...)
		out = append(out, f.Replacement...)
		prev = f.End
	}
	out = append(out, text[prev:]...)
	return string(out)
}

func overlapsAny(findings []Finding, start, end int) bool {
	for _, f := range findings {
		if start < f.End && end > f.Start {
			return true
		}
	}
	return false
}
