package audit

import (
	"strings"
	"time"
)

// Event types recorded by the service.
const (
	EventCallStarted       = "call_started"
	EventCallEnded         = "call_ended"
	EventTurnProcessed     = "call_turn_processed"
	EventProviderFailure   = "provider_failure"
	EventValidationFailure = "webhook_validation_failure"
	EventRateLimited       = "rate_limit_exceeded"
	EventStateViolation    = "session_state_violation"
)

// Result values for the Result field.
const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"
	ResultPartial = "PARTIAL"
)

// Event is one immutable compliance record. Events are append-only: once
// written they are never rewritten, only superseded by later events.
type Event struct {
	EventID            string            `json:"event_id"`
	Timestamp          time.Time         `json:"timestamp"`
	EventType          string            `json:"event_type"`
	CallID             string            `json:"call_id,omitempty"`
	SourceIP           string            `json:"source_ip,omitempty"`
	Result             string            `json:"result"`
	ActionTaken        string            `json:"action_taken,omitempty"`
	PIIInvolved        bool              `json:"pii_involved"`
	DataClassification string            `json:"data_classification"`
	ComplianceTags     []string          `json:"compliance_tags"`
	RiskScore          int               `json:"risk_score"`
	MaskRuleSet        string            `json:"mask_rule_set,omitempty"`
	Details            map[string]string `json:"details,omitempty"`
}

// complianceTags determines which frameworks apply to an event. FISMA and
// NIST controls cover every event on a government system; PII and telephony
// events pick up their own tags.
func complianceTags(eventType string, piiInvolved bool) []string {
	tags := []string{"FISMA", "NIST_800_53"}
	if piiInvolved {
		tags = append(tags, "PRIVACY_ACT", "DATA_PROTECTION")
	}
	lower := strings.ToLower(eventType)
	if strings.Contains(lower, "call") || strings.Contains(lower, "voice") {
		tags = append(tags, "TELECOM_COMPLIANCE")
	}
	return tags
}

// riskScore rates an event on a 1-10 scale from its type, outcome, and PII
// involvement.
func riskScore(eventType, result string, piiInvolved bool) int {
	score := 1

	lower := strings.ToLower(eventType)
	for _, high := range []string{"validation_failure", "rate_limit", "unauthorized", "state_violation"} {
		if strings.Contains(lower, high) {
			score += 5
			break
		}
	}

	switch result {
	case ResultFailure:
		score += 3
	case ResultPartial:
		score++
	}

	if piiInvolved {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func classification(piiInvolved bool) string {
	if piiInvolved {
		return "RESTRICTED"
	}
	return "INTERNAL"
}
