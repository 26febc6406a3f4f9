package planner

import (
	"errors"
	"testing"

	"github.com/basket/actionbridge/internal/protocol"
)

func TestParsePlanJSON_Bare(t *testing.T) {
	text := `{"intent": "send_message", "confidence": 0.9, "riskTier": "medium",
		"summary": "reply to asha", "parameters": {"to": "asha", "message": "on my way"}}`
	plan, err := parsePlanJSON(text)
	if err != nil {
		t.Fatalf("parsePlanJSON: %v", err)
	}
	if plan.Intent != protocol.IntentSendMessage {
		t.Fatalf("Intent = %q", plan.Intent)
	}
	if plan.Parameters["to"] != "asha" {
		t.Fatalf("to = %q", plan.Parameters["to"])
	}
}

func TestParsePlanJSON_FencedWithProse(t *testing.T) {
	text := "Here is the plan you asked for:\n```json\n" +
		`{"intent": "open_app", "summary": "open maps", "parameters": {"package": "maps"}}` +
		"\n```\nLet me know if you need anything else."
	plan, err := parsePlanJSON(text)
	if err != nil {
		t.Fatalf("parsePlanJSON: %v", err)
	}
	if plan.Intent != protocol.IntentOpenApp {
		t.Fatalf("Intent = %q", plan.Intent)
	}
}

func TestParsePlanJSON_DefaultsRiskTier(t *testing.T) {
	plan, err := parsePlanJSON(`{"intent": "info_response", "summary": "ack"}`)
	if err != nil {
		t.Fatalf("parsePlanJSON: %v", err)
	}
	if plan.RiskTier != protocol.RiskMedium {
		t.Fatalf("RiskTier = %q, want medium default", plan.RiskTier)
	}
}

func TestParsePlanJSON_Failures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no json", "I could not produce a plan, sorry."},
		{"missing summary", `{"intent": "open_app"}`},
		{"missing intent", `{"summary": "do something"}`},
		{"bad tier", `{"intent": "open_app", "summary": "x", "riskTier": "extreme"}`},
		{"non-string parameter", `{"intent": "open_app", "summary": "x", "parameters": {"count": 3}}`},
		{"confidence out of range", `{"intent": "open_app", "summary": "x", "confidence": 1.5}`},
	}
	for _, tc := range tests {
		_, err := parsePlanJSON(tc.text)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Errorf("%s: error type %T, want *UpstreamError", tc.name, err)
		}
	}
}

func TestExtractBalanced(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{`{"a": {"b": 2}} trailing`, `{"a": {"b": 2}}`},
		{`{"s": "brace } inside"}`, `{"s": "brace } inside"}`},
		{`{"s": "escaped \" quote }"}`, `{"s": "escaped \" quote }"}`},
		{`{"unterminated": 1`, ""},
	}
	for _, tc := range tests {
		if got := extractBalanced(tc.in); got != tc.want {
			t.Errorf("extractBalanced(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
