// Package protocol defines the JSON wire format shared by the coordination
// server and the mobile actor: the message envelope, frame type constants,
// close codes, and the ActionProposal shape that travels in both directions.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Client→server frame types.
const (
	TypeAuth          = "auth"
	TypeNotification  = "notification"
	TypeActionConfirm = "action_confirm"
	TypeActionReject  = "action_reject"
	TypePing          = "ping"
)

// Server→client frame types.
const (
	TypeAuthSuccess           = "auth_success"
	TypeAuthFailed            = "auth_failed"
	TypeActionProposed        = "action_proposed"
	TypeDoubleConfirmRequired = "double_confirm_required"
	TypeExecute               = "execute"
	TypeActionRejected        = "action_rejected"
	TypeActionCancelled       = "action_cancelled"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Close codes. The 4xxx range is reserved for application use by RFC 6455.
const (
	CloseNormal            = websocket.StatusNormalClosure
	CloseInvalidCredential = websocket.StatusCode(4401)
	CloseAuthTimeout       = websocket.StatusCode(4408)
)

// Envelope is the outer frame for every message on the wire. RequestID is
// echoed back by server responses that relate to a specific proposal.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ, requestID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", typ, err)
	}
	return Envelope{Type: typ, RequestID: requestID, Data: raw}, nil
}

// Intent is one of the fixed whitelisted action kinds.
type Intent string

const (
	IntentSendMessage   Intent = "send_message"
	IntentCallNumber    Intent = "call_number"
	IntentSummarizeCall Intent = "summarize_call"
	IntentOpenApp       Intent = "open_app"
	IntentInfoResponse  Intent = "info_response"
)

// RiskTier classifies a proposal and drives confirmation strictness.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusProposed              Status = "proposed"
	StatusAwaitingDoubleConfirm Status = "awaiting-double-confirm"
	StatusConfirmed             Status = "confirmed"
	StatusRejected              Status = "rejected"
	StatusCancelled             Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Proposal is a candidate automated action awaiting human confirmation.
// It is created by the validator from planner output and mutated only
// through confirmation state-machine transitions.
type Proposal struct {
	RequestID             string            `json:"requestId"`
	Intent                Intent            `json:"intent"`
	Confidence            float64           `json:"confidence"`
	RiskTier              RiskTier          `json:"riskTier"`
	Summary               string            `json:"summary"`
	Parameters            map[string]string `json:"parameters"`
	Steps                 []string          `json:"steps"`
	ConfirmationRequired  bool              `json:"confirmationRequired"`
	DoubleConfirmRequired bool              `json:"doubleConfirmRequired"`
	Passive               bool              `json:"passive"`
	Status                Status            `json:"status"`
}

// Clone returns a deep copy so validated output never aliases planner input.
func (p Proposal) Clone() Proposal {
	cp := p
	if p.Parameters != nil {
		cp.Parameters = make(map[string]string, len(p.Parameters))
		for k, v := range p.Parameters {
			cp.Parameters[k] = v
		}
	}
	if p.Steps != nil {
		cp.Steps = append([]string(nil), p.Steps...)
	}
	return cp
}

// Notification is the inbound event that may yield a proposal.
type Notification struct {
	Mode      string `json:"mode"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

// AuthData is the payload of the first frame after connect.
type AuthData struct {
	APIKey   string `json:"apiKey"`
	ClientID string `json:"clientId"`
}

// AuthSuccessData acknowledges a successful handshake.
type AuthSuccessData struct {
	ClientID string `json:"clientId"`
}

// AuthFailedData explains a rejected handshake.
type AuthFailedData struct {
	Message string `json:"message"`
}

// ActionConfirmData carries the actor's confirmation of a proposal. The plan
// is the actor's echoed copy and is treated as untrusted input.
type ActionConfirmData struct {
	Plan            Proposal `json:"plan"`
	DoubleConfirmed bool     `json:"doubleConfirmed"`
}

// ActionRejectData carries the actor's rejection of a proposal.
type ActionRejectData struct {
	Intent Intent `json:"intent"`
}

// PlanData wraps a proposal for action_proposed, double_confirm_required
// and execute frames.
type PlanData struct {
	Plan Proposal `json:"plan"`
}

// RejectedData explains why validation refused a plan.
type RejectedData struct {
	Reason    string `json:"reason"`
	HumanText string `json:"humanText"`
}

// CancelledData reports a terminal cancellation.
type CancelledData struct {
	Message string `json:"message"`
}

// PongData echoes liveness probes.
type PongData struct {
	Timestamp string `json:"timestamp"`
}

// ErrorData reports a recoverable protocol or upstream failure.
type ErrorData struct {
	Message string `json:"message"`
}
