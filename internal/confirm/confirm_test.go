package confirm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/protocol"
	"github.com/basket/actionbridge/internal/validate"
)

func proposedPlan(t *testing.T, requestID string, tier protocol.RiskTier) protocol.Proposal {
	t.Helper()
	raw := protocol.Proposal{
		RequestID:  requestID,
		Intent:     protocol.IntentCallNumber,
		Confidence: 0.85,
		RiskTier:   tier,
		Summary:    "call rahul about the meeting",
		Parameters: map[string]string{"to": "rahul"},
	}
	plan, err := validate.Validate(raw)
	if err != nil {
		t.Fatalf("validate fixture: %v", err)
	}
	return plan
}

func TestMachine_ConfirmLowRiskExecutes(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	out := m.Confirm("req-1", plan, false)
	if out.Decision != DecisionExecute {
		t.Fatalf("Decision = %v, want DecisionExecute", out.Decision)
	}
	if out.Proposal.Status != protocol.StatusConfirmed {
		t.Fatalf("Status = %q, want confirmed", out.Proposal.Status)
	}
}

func TestMachine_HighRiskNeedsDoubleConfirm(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskHigh)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// First confirm without the second approval only advances the state.
	out := m.Confirm("req-1", plan, false)
	if out.Decision != DecisionDoubleConfirm {
		t.Fatalf("Decision = %v, want DecisionDoubleConfirm", out.Decision)
	}
	if out.Proposal.Status != protocol.StatusAwaitingDoubleConfirm {
		t.Fatalf("Status = %q, want awaiting-double-confirm", out.Proposal.Status)
	}

	// The second confirm with doubleConfirmed executes.
	out = m.Confirm("req-1", plan, true)
	if out.Decision != DecisionExecute {
		t.Fatalf("Decision = %v, want DecisionExecute", out.Decision)
	}
	if out.Proposal.Status != protocol.StatusConfirmed {
		t.Fatalf("Status = %q, want confirmed", out.Proposal.Status)
	}
}

func TestMachine_TerminalReplayIsNoop(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if out := m.Confirm("req-1", plan, false); out.Decision != DecisionExecute {
		t.Fatalf("first confirm: %v", out.Decision)
	}

	// Replays of both frame kinds against a terminal proposal change nothing.
	if out := m.Confirm("req-1", plan, true); out.Decision != DecisionNoop {
		t.Fatalf("confirm replay: Decision = %v, want DecisionNoop", out.Decision)
	}
	if out := m.Reject("req-1"); out.Decision != DecisionNoop {
		t.Fatalf("reject replay: Decision = %v, want DecisionNoop", out.Decision)
	}
	held, ok := m.Get("req-1")
	if !ok || held.Status != protocol.StatusConfirmed {
		t.Fatalf("terminal status drifted: %q", held.Status)
	}
}

func TestMachine_RejectCancels(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskMedium)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	out := m.Reject("req-1")
	if out.Decision != DecisionCancelled {
		t.Fatalf("Decision = %v, want DecisionCancelled", out.Decision)
	}
	if out.Proposal.Status != protocol.StatusRejected {
		t.Fatalf("Status = %q, want rejected", out.Proposal.Status)
	}

	// A confirm after rejection must not resurrect the proposal.
	if out := m.Confirm("req-1", plan, true); out.Decision != DecisionNoop {
		t.Fatalf("confirm after reject: Decision = %v, want DecisionNoop", out.Decision)
	}
}

func TestMachine_TamperedEchoRejected(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	forged := plan.Clone()
	forged.Parameters["to"] = "someone-else"

	out := m.Confirm("req-1", forged, false)
	if out.Decision != DecisionRejected {
		t.Fatalf("Decision = %v, want DecisionRejected", out.Decision)
	}
	if out.Proposal.Status != protocol.StatusRejected {
		t.Fatalf("Status = %q, want rejected", out.Proposal.Status)
	}
}

func TestMachine_InvalidEchoRejected(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	forged := plan.Clone()
	forged.Intent = "wipe_device"

	out := m.Confirm("req-1", forged, false)
	if out.Decision != DecisionRejected {
		t.Fatalf("Decision = %v, want DecisionRejected", out.Decision)
	}
}

func TestMachine_UnknownRequestID(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-ghost", protocol.RiskLow)
	if out := m.Confirm("req-ghost", plan, false); out.Decision != DecisionUnknown {
		t.Fatalf("Confirm: Decision = %v, want DecisionUnknown", out.Decision)
	}
	if out := m.Reject("req-ghost"); out.Decision != DecisionUnknown {
		t.Fatalf("Reject: Decision = %v, want DecisionUnknown", out.Decision)
	}
}

func TestMachine_DuplicateRequestID(t *testing.T) {
	m := New(bus.New())
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("first Propose: %v", err)
	}
	err := m.Propose("client-a", plan)
	if !errors.Is(err, ErrDuplicateRequestID) {
		t.Fatalf("second Propose: err = %v, want ErrDuplicateRequestID", err)
	}
}

func TestMachine_DropClient(t *testing.T) {
	m := New(bus.New())
	for i := 0; i < 3; i++ {
		plan := proposedPlan(t, fmt.Sprintf("a-%d", i), protocol.RiskLow)
		if err := m.Propose("client-a", plan); err != nil {
			t.Fatalf("Propose a-%d: %v", i, err)
		}
	}
	other := proposedPlan(t, "b-0", protocol.RiskLow)
	if err := m.Propose("client-b", other); err != nil {
		t.Fatalf("Propose b-0: %v", err)
	}

	if n := m.DropClient("client-a"); n != 3 {
		t.Fatalf("DropClient = %d, want 3", n)
	}
	if n := m.PendingCount(); n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}
	if _, ok := m.Get("b-0"); !ok {
		t.Fatal("client-b proposal lost")
	}
}

func TestMachine_TransitionEventsPublished(t *testing.T) {
	events := bus.New()
	sub := events.Subscribe("proposal.")
	defer events.Unsubscribe(sub)

	m := New(events)
	plan := proposedPlan(t, "req-1", protocol.RiskLow)
	if err := m.Propose("client-a", plan); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	m.Confirm("req-1", plan, false)

	// Creation gets its own topic; only real transitions land on the
	// transition topic.
	want := []struct {
		topic string
		to    string
	}{
		{bus.TopicProposalCreated, string(protocol.StatusProposed)},
		{bus.TopicProposalTransition, string(protocol.StatusConfirmed)},
	}
	for _, w := range want {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != w.topic {
				t.Fatalf("topic = %q, want %q", ev.Topic, w.topic)
			}
			pe, ok := ev.Payload.(bus.ProposalEvent)
			if !ok {
				t.Fatalf("payload type %T", ev.Payload)
			}
			if pe.To != w.to {
				t.Fatalf("transition to %q, want %q", pe.To, w.to)
			}
		default:
			t.Fatalf("missing event on %q", w.topic)
		}
	}
}
