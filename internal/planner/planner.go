// Package planner turns incoming notifications into raw action plans.
// Plans produced here are untrusted until the validator has passed them.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/actionbridge/internal/protocol"
)

// Planner proposes an action plan for a notification. Implementations must
// honor ctx cancellation; the caller imposes the deadline.
type Planner interface {
	Plan(ctx context.Context, n protocol.Notification) (protocol.Proposal, error)
}

// UpstreamError wraps a failure of the external plan generator. The session
// survives these; the notification is answered with an error frame instead.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("planner upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// planSchema constrains the shape a generator may return before the plan is
// handed on. Semantic checks (whitelist, field contracts) stay with the
// validator; this only rejects malformed output early.
const planSchema = `{
	"type": "object",
	"required": ["intent", "summary"],
	"properties": {
		"intent": {"type": "string", "minLength": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"riskTier": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
		"summary": {"type": "string", "minLength": 1},
		"parameters": {"type": "object", "additionalProperties": {"type": "string"}},
		"steps": {"type": "array", "items": {"type": "string"}}
	}
}`

var compiledPlanSchema = mustCompileSchema(planSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal plan schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("add plan schema resource: %v", err))
	}
	schema, err := c.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("compile plan schema: %v", err))
	}
	return schema
}

// parsePlanJSON extracts and screens a plan object from generator output.
func parsePlanJSON(text string) (protocol.Proposal, error) {
	jsonStr := extractJSON(text)
	if jsonStr == "" {
		return protocol.Proposal{}, &UpstreamError{Op: "parse", Err: fmt.Errorf("no JSON object in generator output")}
	}

	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return protocol.Proposal{}, &UpstreamError{Op: "parse", Err: err}
	}
	if err := compiledPlanSchema.Validate(parsed); err != nil {
		return protocol.Proposal{}, &UpstreamError{Op: "schema", Err: err}
	}

	var p protocol.Proposal
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return protocol.Proposal{}, &UpstreamError{Op: "decode", Err: err}
	}
	if p.RiskTier == "" {
		p.RiskTier = protocol.RiskMedium
	}
	return p, nil
}

// extractJSON finds a JSON object in the generator's response text.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

// extractBalanced returns the shortest balanced {...} prefix of s.
func extractBalanced(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}
