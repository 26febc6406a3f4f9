package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/actionbridge/internal/protocol"
)

// RulePlanner derives plans from notification text with fixed heuristics.
// It backs keyless deployments and is the fallback when no LLM is configured.
type RulePlanner struct{}

func NewRulePlanner() *RulePlanner {
	return &RulePlanner{}
}

var (
	callRe    = regexp.MustCompile(`(?i)\b(?:call|phone|ring|dial)\s+([A-Za-z][\w'-]*)`)
	messageRe = regexp.MustCompile(`(?i)\b(?:text|message|reply to|tell)\s+([A-Za-z][\w'-]*)`)
	openAppRe = regexp.MustCompile(`(?i)\bopen\s+([A-Za-z][\w.-]*)`)
)

// Plan maps the notification onto the closest matching intent. Missed-call
// summaries and unmatched text degrade to passive intents rather than failing.
func (p *RulePlanner) Plan(_ context.Context, n protocol.Notification) (protocol.Proposal, error) {
	text := strings.TrimSpace(n.Message)

	if n.Mode == "missed_call" {
		return protocol.Proposal{
			Intent:     protocol.IntentSummarizeCall,
			Confidence: 0.9,
			RiskTier:   protocol.RiskLow,
			Summary:    fmt.Sprintf("Summarize the missed call from %s", n.Sender),
			Parameters: map[string]string{"call_id": n.Source},
			Steps:      []string{"Fetch the call record", "Produce a short summary"},
		}, nil
	}

	if m := callRe.FindStringSubmatch(text); m != nil {
		contact := m[1]
		return protocol.Proposal{
			Intent:     protocol.IntentCallNumber,
			Confidence: 0.85,
			RiskTier:   protocol.RiskHigh,
			Summary:    fmt.Sprintf("Place a call to %s as requested by %s", contact, n.Sender),
			Parameters: map[string]string{"to": contact},
			Steps: []string{
				fmt.Sprintf("Resolve %s in the device contacts", contact),
				"Place the outgoing call",
			},
		}, nil
	}

	if m := messageRe.FindStringSubmatch(text); m != nil {
		contact := m[1]
		return protocol.Proposal{
			Intent:     protocol.IntentSendMessage,
			Confidence: 0.8,
			RiskTier:   protocol.RiskMedium,
			Summary:    fmt.Sprintf("Send a message to %s on behalf of %s", contact, n.Sender),
			Parameters: map[string]string{"to": contact, "message": text},
			Steps: []string{
				fmt.Sprintf("Resolve %s in the device contacts", contact),
				"Send the drafted message",
			},
		}, nil
	}

	if m := openAppRe.FindStringSubmatch(text); m != nil {
		app := strings.ToLower(m[1])
		return protocol.Proposal{
			Intent:     protocol.IntentOpenApp,
			Confidence: 0.75,
			RiskTier:   protocol.RiskLow,
			Summary:    fmt.Sprintf("Open the %s app", app),
			Parameters: map[string]string{"package": app},
			Steps:      []string{fmt.Sprintf("Launch %s", app)},
		}, nil
	}

	// Nothing actionable: answer informationally.
	return protocol.Proposal{
		Intent:     protocol.IntentInfoResponse,
		Confidence: 0.6,
		RiskTier:   protocol.RiskLow,
		Summary:    fmt.Sprintf("Acknowledge the notification from %s", n.Sender),
		Parameters: map[string]string{"answer": "Noted: " + text},
	}, nil
}
