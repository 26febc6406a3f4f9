package actor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/basket/actionbridge/internal/protocol"
)

func TestTermConfirmerAutoConfirmsPassive(t *testing.T) {
	c := &TermConfirmer{AutoConfirmPassive: true}
	ok, err := c.Confirm(context.Background(), protocol.Proposal{
		Intent:  protocol.IntentInfoResponse,
		Passive: true,
	}, false)
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
}

func TestTermConfirmerRefusesActiveWithoutTTY(t *testing.T) {
	c := &TermConfirmer{AutoConfirmPassive: true, Interactive: false}
	ok, err := c.Confirm(context.Background(), protocol.Proposal{
		Intent: protocol.IntentCallNumber,
	}, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if ok {
		t.Fatal("active plan must be refused without a terminal")
	}
}

func TestTermConfirmerPrompts(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"anything\n", false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		c := &TermConfirmer{In: strings.NewReader(tc.answer), Out: &out, Interactive: true}
		ok, err := c.Confirm(context.Background(), protocol.Proposal{
			Intent:   protocol.IntentSendMessage,
			Summary:  "Reply to Priya",
			RiskTier: protocol.RiskMedium,
		}, false)
		if err != nil {
			t.Fatalf("answer %q: %v", tc.answer, err)
		}
		if ok != tc.want {
			t.Errorf("answer %q: Confirm = %v, want %v", tc.answer, ok, tc.want)
		}
		if !strings.Contains(out.String(), "Reply to Priya") {
			t.Errorf("answer %q: prompt missing summary", tc.answer)
		}
	}
}

func TestTermConfirmerDoubleConfirmPrompt(t *testing.T) {
	var out bytes.Buffer
	c := &TermConfirmer{In: strings.NewReader("y\n"), Out: &out, Interactive: true}
	ok, err := c.Confirm(context.Background(), protocol.Proposal{
		Intent:   protocol.IntentCallNumber,
		Summary:  "Call Rahul",
		RiskTier: protocol.RiskHigh,
	}, true)
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
	if !strings.Contains(out.String(), "high-risk") {
		t.Fatal("double-confirm prompt must warn about risk")
	}
}

func TestLogExecutor(t *testing.T) {
	e := &LogExecutor{}
	if err := e.Execute(context.Background(), protocol.Proposal{Intent: protocol.IntentOpenApp}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
