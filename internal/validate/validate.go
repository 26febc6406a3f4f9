// Package validate screens raw planner output before it may become a
// proposal. Validate is a pure function: no hidden state, no locking, safe
// to invoke concurrently; the input proposal is never mutated.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/basket/actionbridge/internal/protocol"
)

const maxMessageLength = 2000

// Error is a validation failure with a specific, human-readable reason.
// A rejected proposal has no retry path; a corrected proposal must be
// resubmitted from scratch.
type Error struct {
	Reason       string
	PatternClass string // set when a dangerous pattern matched
	Field        string // set when a required field was missing or malformed
}

func (e *Error) Error() string { return e.Reason }

// HumanText renders the reason for display to the actor.
func (e *Error) HumanText() string {
	return fmt.Sprintf("This action was blocked: %s.", e.Reason)
}

// intentWhitelist is the fixed, exhaustive set of permitted intents.
var intentWhitelist = map[protocol.Intent]struct{}{
	protocol.IntentSendMessage:   {},
	protocol.IntentCallNumber:    {},
	protocol.IntentSummarizeCall: {},
	protocol.IntentOpenApp:       {},
	protocol.IntentInfoResponse:  {},
}

// doubleConfirmTiers maps risk tier to the double-confirmation requirement.
var doubleConfirmTiers = map[protocol.RiskTier]bool{
	protocol.RiskLow:      false,
	protocol.RiskMedium:   false,
	protocol.RiskHigh:     true,
	protocol.RiskCritical: true,
}

// passiveIntents are informational, non-state-changing intents.
var passiveIntents = map[protocol.Intent]struct{}{
	protocol.IntentInfoResponse:  {},
	protocol.IntentSummarizeCall: {},
}

// requiredFields is the per-intent field contract. A length limit of zero
// means unbounded.
var requiredFields = map[protocol.Intent][]fieldRule{
	protocol.IntentSendMessage:   {{name: "to"}, {name: "message", maxLen: maxMessageLength}},
	protocol.IntentCallNumber:    {{name: "to"}},
	protocol.IntentSummarizeCall: {{name: "call_id"}},
	protocol.IntentOpenApp:       {{name: "package"}},
	protocol.IntentInfoResponse:  {{name: "answer"}},
}

type fieldRule struct {
	name   string
	maxLen int
}

// Validate runs the full pipeline over a raw proposal and returns a
// sanitized, independent copy with forced flags, or a *Error describing the
// first failure. Identical input always yields identical output.
func Validate(raw protocol.Proposal) (protocol.Proposal, error) {
	if _, ok := intentWhitelist[raw.Intent]; !ok {
		return protocol.Proposal{}, &Error{Reason: "intent not whitelisted"}
	}

	if class := matchBlockedPattern(serializeForScreening(raw)); class != "" {
		return protocol.Proposal{}, &Error{
			Reason:       fmt.Sprintf("dangerous pattern detected: %s", class),
			PatternClass: class,
		}
	}

	for _, rule := range requiredFields[raw.Intent] {
		v, ok := raw.Parameters[rule.name]
		if !ok || strings.TrimSpace(v) == "" {
			return protocol.Proposal{}, &Error{
				Reason: fmt.Sprintf("missing required field %q for intent %s", rule.name, raw.Intent),
				Field:  rule.name,
			}
		}
		if rule.maxLen > 0 && len(v) > rule.maxLen {
			return protocol.Proposal{}, &Error{
				Reason: fmt.Sprintf("field %q exceeds %d characters", rule.name, rule.maxLen),
				Field:  rule.name,
			}
		}
	}

	sanitized := raw.Clone()
	// The upstream confirmation flag is never trusted.
	sanitized.ConfirmationRequired = true
	sanitized.DoubleConfirmRequired = doubleConfirmTiers[raw.RiskTier]
	_, sanitized.Passive = passiveIntents[raw.Intent]
	if sanitized.Status == "" {
		sanitized.Status = protocol.StatusProposed
	}
	return sanitized, nil
}

// DoubleConfirmRequired exposes the risk policy table.
func DoubleConfirmRequired(tier protocol.RiskTier) bool {
	return doubleConfirmTiers[tier]
}

// serializeForScreening flattens parameters (in deterministic key order) and
// execution steps into one text blob for pattern screening.
func serializeForScreening(p protocol.Proposal) string {
	keys := make([]string, 0, len(p.Parameters))
	for k := range p.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(p.Summary)
	for _, k := range keys {
		sb.WriteString("\n")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(p.Parameters[k])
	}
	for _, step := range p.Steps {
		sb.WriteString("\n")
		sb.WriteString(step)
	}
	return sb.String()
}

func matchBlockedPattern(text string) string {
	for _, pat := range blockedPatterns {
		if pat.re.MatchString(text) {
			return pat.class
		}
	}
	return ""
}
