package validate

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/basket/actionbridge/internal/protocol"
)

func validProposal(intent protocol.Intent) protocol.Proposal {
	p := protocol.Proposal{
		RequestID:  "req-1",
		Intent:     intent,
		Confidence: 0.9,
		RiskTier:   protocol.RiskMedium,
		Summary:    "do the thing",
	}
	switch intent {
	case protocol.IntentSendMessage:
		p.Parameters = map[string]string{"to": "rahul", "message": "meeting shifted to 4pm"}
	case protocol.IntentCallNumber:
		p.Parameters = map[string]string{"to": "rahul"}
	case protocol.IntentSummarizeCall:
		p.Parameters = map[string]string{"call_id": "c-42"}
	case protocol.IntentOpenApp:
		p.Parameters = map[string]string{"package": "com.example.maps"}
	case protocol.IntentInfoResponse:
		p.Parameters = map[string]string{"answer": "yes, at 4pm"}
	}
	return p
}

func TestValidate_ForcesConfirmationRequired(t *testing.T) {
	raw := validProposal(protocol.IntentSendMessage)
	raw.ConfirmationRequired = false

	got, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.ConfirmationRequired {
		t.Fatal("ConfirmationRequired must be forced true")
	}
	// The input must not be mutated.
	if raw.ConfirmationRequired {
		t.Fatal("input proposal was mutated")
	}
}

func TestValidate_RejectsUnknownIntent(t *testing.T) {
	for _, intent := range []protocol.Intent{"delete_files", "transfer_money", "", "SEND_MESSAGE"} {
		raw := validProposal(protocol.IntentSendMessage)
		raw.Intent = intent
		_, err := Validate(raw)
		if err == nil {
			t.Fatalf("intent %q: expected rejection", intent)
		}
		var verr *Error
		if !errors.As(err, &verr) {
			t.Fatalf("intent %q: expected *Error, got %T", intent, err)
		}
		if verr.Reason != "intent not whitelisted" {
			t.Fatalf("intent %q: wrong reason %q", intent, verr.Reason)
		}
	}
}

func TestValidate_DoubleConfirmByTier(t *testing.T) {
	tests := []struct {
		tier protocol.RiskTier
		want bool
	}{
		{protocol.RiskLow, false},
		{protocol.RiskMedium, false},
		{protocol.RiskHigh, true},
		{protocol.RiskCritical, true},
	}
	for _, tc := range tests {
		raw := validProposal(protocol.IntentCallNumber)
		raw.RiskTier = tc.tier
		got, err := Validate(raw)
		if err != nil {
			t.Fatalf("tier %s: %v", tc.tier, err)
		}
		if got.DoubleConfirmRequired != tc.want {
			t.Errorf("tier %s: DoubleConfirmRequired = %v, want %v", tc.tier, got.DoubleConfirmRequired, tc.want)
		}
		if DoubleConfirmRequired(tc.tier) != tc.want {
			t.Errorf("tier %s: policy table disagrees", tc.tier)
		}
	}
}

func TestValidate_PassiveIntents(t *testing.T) {
	tests := []struct {
		intent protocol.Intent
		want   bool
	}{
		{protocol.IntentInfoResponse, true},
		{protocol.IntentSummarizeCall, true},
		{protocol.IntentSendMessage, false},
		{protocol.IntentCallNumber, false},
		{protocol.IntentOpenApp, false},
	}
	for _, tc := range tests {
		got, err := Validate(validProposal(tc.intent))
		if err != nil {
			t.Fatalf("intent %s: %v", tc.intent, err)
		}
		if got.Passive != tc.want {
			t.Errorf("intent %s: Passive = %v, want %v", tc.intent, got.Passive, tc.want)
		}
	}
}

func TestValidate_Idempotent(t *testing.T) {
	for _, intent := range []protocol.Intent{
		protocol.IntentSendMessage,
		protocol.IntentCallNumber,
		protocol.IntentSummarizeCall,
		protocol.IntentOpenApp,
		protocol.IntentInfoResponse,
	} {
		raw := validProposal(intent)
		raw.RiskTier = protocol.RiskHigh

		once, err := Validate(raw)
		if err != nil {
			t.Fatalf("intent %s first pass: %v", intent, err)
		}
		twice, err := Validate(once)
		if err != nil {
			t.Fatalf("intent %s second pass: %v", intent, err)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("intent %s: second pass changed the proposal\nfirst:  %+v\nsecond: %+v", intent, once, twice)
		}
	}
}

func TestValidate_BlocksRecursiveDeleteEverywhere(t *testing.T) {
	// The same dangerous payload must be rejected regardless of intent.
	for _, intent := range []protocol.Intent{
		protocol.IntentSendMessage,
		protocol.IntentCallNumber,
		protocol.IntentSummarizeCall,
		protocol.IntentOpenApp,
		protocol.IntentInfoResponse,
	} {
		raw := validProposal(intent)
		raw.Steps = []string{"run rm -rf / on the host"}
		_, err := Validate(raw)
		var verr *Error
		if !errors.As(err, &verr) {
			t.Fatalf("intent %s: expected *Error, got %v", intent, err)
		}
		if verr.PatternClass != ClassFilesystemDestructive {
			t.Errorf("intent %s: pattern class = %q, want %q", intent, verr.PatternClass, ClassFilesystemDestructive)
		}
	}
}

func TestValidate_BlockedPatternClasses(t *testing.T) {
	tests := []struct {
		payload string
		class   string
	}{
		{"rm -rf /tmp/x", ClassFilesystemDestructive},
		{"rm -fr ~", ClassFilesystemDestructive},
		{"mkfs.ext4 /dev/sda1", ClassFilesystemDestructive},
		{"dd if=/dev/zero of=/dev/sda", ClassFilesystemDestructive},
		{"DROP TABLE users", ClassSQLDestructive},
		{"drop database prod", ClassSQLDestructive},
		{"TRUNCATE TABLE events", ClassSQLDestructive},
		{"eval(payload)", ClassCodeExecution},
		{"os.system('ls')", ClassCodeExecution},
		{"subprocess.run(cmd)", ClassCodeExecution},
		{"sudo reboot", ClassPrivilegedShell},
		{"doas pkill -9 init", ClassPrivilegedShell},
		{"broadcast this to everyone", ClassMassCommunication},
		{"bulk sms the contact list", ClassMassCommunication},
		{"mass-message all contacts", ClassMassCommunication},
	}
	for _, tc := range tests {
		raw := validProposal(protocol.IntentInfoResponse)
		raw.Parameters["answer"] = tc.payload
		_, err := Validate(raw)
		var verr *Error
		if !errors.As(err, &verr) {
			t.Fatalf("payload %q: expected rejection, got %v", tc.payload, err)
		}
		if verr.PatternClass != tc.class {
			t.Errorf("payload %q: class = %q, want %q", tc.payload, verr.PatternClass, tc.class)
		}
	}
}

func TestValidate_AllowsBenignText(t *testing.T) {
	benign := []string{
		"tell him the meeting shifted to 4pm",
		"please call me back when free",
		"the format of the report looks good",
		"remove the last item from the list",
		"massive congratulations on the launch",
	}
	for _, text := range benign {
		raw := validProposal(protocol.IntentSendMessage)
		raw.Parameters["message"] = text
		if _, err := Validate(raw); err != nil {
			t.Errorf("benign %q rejected: %v", text, err)
		}
	}
}

func TestValidate_FieldContracts(t *testing.T) {
	tests := []struct {
		intent protocol.Intent
		drop   string
	}{
		{protocol.IntentSendMessage, "to"},
		{protocol.IntentSendMessage, "message"},
		{protocol.IntentCallNumber, "to"},
		{protocol.IntentSummarizeCall, "call_id"},
		{protocol.IntentOpenApp, "package"},
		{protocol.IntentInfoResponse, "answer"},
	}
	for _, tc := range tests {
		raw := validProposal(tc.intent)
		delete(raw.Parameters, tc.drop)
		_, err := Validate(raw)
		var verr *Error
		if !errors.As(err, &verr) {
			t.Fatalf("intent %s without %q: expected rejection, got %v", tc.intent, tc.drop, err)
		}
		if verr.Field != tc.drop {
			t.Errorf("intent %s: Field = %q, want %q", tc.intent, verr.Field, tc.drop)
		}
	}

	// Whitespace-only values count as missing.
	raw := validProposal(protocol.IntentCallNumber)
	raw.Parameters["to"] = "   "
	if _, err := Validate(raw); err == nil {
		t.Fatal("whitespace-only field accepted")
	}
}

func TestValidate_MessageLengthLimit(t *testing.T) {
	raw := validProposal(protocol.IntentSendMessage)
	raw.Parameters["message"] = strings.Repeat("a", maxMessageLength)
	if _, err := Validate(raw); err != nil {
		t.Fatalf("message at limit rejected: %v", err)
	}

	raw.Parameters["message"] = strings.Repeat("a", maxMessageLength+1)
	_, err := Validate(raw)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected rejection over limit, got %v", err)
	}
	if verr.Field != "message" {
		t.Errorf("Field = %q, want message", verr.Field)
	}
}

func TestValidate_DefaultsStatusToProposed(t *testing.T) {
	got, err := Validate(validProposal(protocol.IntentOpenApp))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Status != protocol.StatusProposed {
		t.Fatalf("Status = %q, want %q", got.Status, protocol.StatusProposed)
	}
}
