// Package confirm owns the per-request confirmation lifecycle:
// proposed → (awaiting-double-confirm) → confirmed | rejected | cancelled.
// Transitions are monotonic; a terminal request id accepts no further
// transitions, and every transition emits exactly one audit event.
package confirm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/protocol"
	"github.com/basket/actionbridge/internal/validate"
)

// ErrDuplicateRequestID is returned when a proposal reuses a live request id.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// Decision tells the router which frame to send back to the actor.
type Decision int

const (
	// DecisionExecute means the proposal reached confirmed; dispatch to its sink.
	DecisionExecute Decision = iota
	// DecisionDoubleConfirm means a second explicit approval is still required.
	DecisionDoubleConfirm
	// DecisionRejected means validation refused the echoed plan.
	DecisionRejected
	// DecisionCancelled means the actor rejected the proposal.
	DecisionCancelled
	// DecisionNoop means the request id was already terminal; audited, no frame change.
	DecisionNoop
	// DecisionUnknown means no pending proposal exists for the request id.
	DecisionUnknown
)

// Outcome is the result of a confirm or reject transition.
type Outcome struct {
	Decision Decision
	Proposal protocol.Proposal
	Reason   string
}

type pending struct {
	clientID string
	proposal protocol.Proposal
}

// Machine holds the server-authoritative pending-proposal map. All state is
// behind one mutex so confirm/reject races on the same request id resolve to
// a single winner.
type Machine struct {
	mu      sync.Mutex
	pending map[string]*pending
	events  *bus.Bus
}

// New creates an empty Machine publishing transitions on the given bus.
func New(events *bus.Bus) *Machine {
	return &Machine{
		pending: make(map[string]*pending),
		events:  events,
	}
}

// Propose registers a validated proposal for the given client. Request ids
// must be unique for the lifetime of the session that created them.
func (m *Machine) Propose(clientID string, p protocol.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[p.RequestID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, p.RequestID)
	}
	p.Status = protocol.StatusProposed
	m.pending[p.RequestID] = &pending{clientID: clientID, proposal: p}

	audit.Record(audit.EventProposalCreated, p.RequestID, map[string]string{
		"client_id": clientID,
		"intent":    string(p.Intent),
		"risk_tier": string(p.RiskTier),
	})
	m.publish(bus.TopicProposalCreated, p.RequestID, clientID, string(p.Intent), "", string(protocol.StatusProposed))
	return nil
}

// Confirm processes an action_confirm frame. The echoed plan is untrusted:
// it is re-run through the full validation pipeline and compared against the
// server-held copy before any transition is allowed.
func (m *Machine) Confirm(requestID string, echoed protocol.Proposal, doubleConfirmed bool) Outcome {
	sanitized, err := validate.Validate(echoed)
	if err != nil {
		var verr *validate.Error
		reason := err.Error()
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		return m.rejectPending(requestID, "confirm re-validation failed: "+reason)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[requestID]
	if !ok {
		return Outcome{Decision: DecisionUnknown, Reason: "no pending proposal for request id"}
	}
	if entry.proposal.Status.Terminal() {
		audit.Record(audit.EventTerminalReplay, requestID, map[string]string{
			"status": string(entry.proposal.Status),
			"frame":  protocol.TypeActionConfirm,
		})
		return Outcome{Decision: DecisionNoop, Proposal: entry.proposal}
	}
	if tampered(entry.proposal, sanitized) {
		return m.rejectLocked(entry, requestID, "confirmed plan does not match proposed plan")
	}

	from := entry.proposal.Status
	if entry.proposal.DoubleConfirmRequired && !doubleConfirmed {
		entry.proposal.Status = protocol.StatusAwaitingDoubleConfirm
		audit.Record(audit.EventDoubleConfirmAsked, requestID, map[string]string{
			"intent":    string(entry.proposal.Intent),
			"risk_tier": string(entry.proposal.RiskTier),
		})
		m.publish(bus.TopicProposalTransition, requestID, entry.clientID, string(entry.proposal.Intent), string(from), string(entry.proposal.Status))
		return Outcome{Decision: DecisionDoubleConfirm, Proposal: entry.proposal}
	}

	entry.proposal.Status = protocol.StatusConfirmed
	audit.Record(audit.EventProposalConfirmed, requestID, map[string]string{
		"intent":           string(entry.proposal.Intent),
		"double_confirmed": fmt.Sprintf("%t", doubleConfirmed),
	})
	m.publish(bus.TopicProposalTransition, requestID, entry.clientID, string(entry.proposal.Intent), string(from), string(protocol.StatusConfirmed))
	return Outcome{Decision: DecisionExecute, Proposal: entry.proposal}
}

// Reject processes an action_reject frame from the actor.
func (m *Machine) Reject(requestID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[requestID]
	if !ok {
		return Outcome{Decision: DecisionUnknown, Reason: "no pending proposal for request id"}
	}
	if entry.proposal.Status.Terminal() {
		audit.Record(audit.EventTerminalReplay, requestID, map[string]string{
			"status": string(entry.proposal.Status),
			"frame":  protocol.TypeActionReject,
		})
		return Outcome{Decision: DecisionNoop, Proposal: entry.proposal}
	}

	from := entry.proposal.Status
	entry.proposal.Status = protocol.StatusRejected
	audit.Record(audit.EventProposalCancelled, requestID, map[string]string{
		"intent": string(entry.proposal.Intent),
	})
	m.publish(bus.TopicProposalTransition, requestID, entry.clientID, string(entry.proposal.Intent), string(from), string(protocol.StatusRejected))
	return Outcome{Decision: DecisionCancelled, Proposal: entry.proposal}
}

// Get returns the server-held copy of a pending proposal.
func (m *Machine) Get(requestID string) (protocol.Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[requestID]
	if !ok {
		return protocol.Proposal{}, false
	}
	return entry.proposal, true
}

// DropClient discards all proposal state belonging to a disconnected client.
// Proposals have no lifetime beyond the connection that created them.
func (m *Machine) DropClient(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, entry := range m.pending {
		if entry.clientID == clientID {
			delete(m.pending, id)
			dropped++
		}
	}
	return dropped
}

// PendingCount returns the number of tracked proposals.
func (m *Machine) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Machine) rejectPending(requestID, reason string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[requestID]
	if !ok {
		return Outcome{Decision: DecisionUnknown, Reason: reason}
	}
	if entry.proposal.Status.Terminal() {
		audit.Record(audit.EventTerminalReplay, requestID, map[string]string{
			"status": string(entry.proposal.Status),
			"frame":  protocol.TypeActionConfirm,
		})
		return Outcome{Decision: DecisionNoop, Proposal: entry.proposal}
	}
	return m.rejectLocked(entry, requestID, reason)
}

// rejectLocked transitions a pending proposal to rejected. Caller holds mu.
func (m *Machine) rejectLocked(entry *pending, requestID, reason string) Outcome {
	from := entry.proposal.Status
	entry.proposal.Status = protocol.StatusRejected
	audit.Record(audit.EventProposalRejected, requestID, map[string]string{
		"intent": string(entry.proposal.Intent),
		"reason": reason,
	})
	m.publish(bus.TopicProposalTransition, requestID, entry.clientID, string(entry.proposal.Intent), string(from), string(protocol.StatusRejected))
	return Outcome{Decision: DecisionRejected, Proposal: entry.proposal, Reason: reason}
}

// tampered compares the fields an actor could abuse by editing its echoed
// copy. Summary text may differ; intent, parameters and risk tier may not.
func tampered(held, echoed protocol.Proposal) bool {
	if held.Intent != echoed.Intent || held.RiskTier != echoed.RiskTier {
		return true
	}
	if len(held.Parameters) != len(echoed.Parameters) {
		return true
	}
	for k, v := range held.Parameters {
		if echoed.Parameters[k] != v {
			return true
		}
	}
	return false
}

func (m *Machine) publish(topic, requestID, clientID, intent, from, to string) {
	if m.events == nil {
		return
	}
	m.events.Publish(topic, bus.ProposalEvent{
		RequestID: requestID,
		ClientID:  clientID,
		Intent:    intent,
		From:      from,
		To:        to,
	})
}
