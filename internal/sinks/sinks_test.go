package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/actionbridge/internal/protocol"
)

func TestActorSinkSendsExecuteFrame(t *testing.T) {
	var sent protocol.Envelope
	var sentTo string
	sink := NewActorSink(func(_ context.Context, clientID string, env protocol.Envelope) error {
		sentTo = clientID
		sent = env
		return nil
	})

	plan := protocol.Proposal{
		RequestID:  "req-1",
		Intent:     protocol.IntentSendMessage,
		Parameters: map[string]string{"to": "Priya", "message": "hi"},
		Status:     protocol.StatusConfirmed,
	}
	if err := sink.Dispatch(context.Background(), "phone-1", plan); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if sentTo != "phone-1" {
		t.Fatalf("clientID = %q", sentTo)
	}
	if sent.Type != protocol.TypeExecute || sent.RequestID != "req-1" {
		t.Fatalf("envelope = %+v", sent)
	}
	var data protocol.PlanData
	if err := json.Unmarshal(sent.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Plan.Intent != protocol.IntentSendMessage {
		t.Fatalf("plan intent = %q", data.Plan.Intent)
	}
}

func TestActorSinkWrapsSendFailure(t *testing.T) {
	cause := errors.New("no session")
	sink := NewActorSink(func(context.Context, string, protocol.Envelope) error {
		return cause
	})

	err := sink.Dispatch(context.Background(), "phone-1", protocol.Proposal{
		RequestID: "req-1",
		Intent:    protocol.IntentOpenApp,
	})
	var sinkErr *Error
	if !errors.As(err, &sinkErr) {
		t.Fatalf("error type = %T", err)
	}
	if sinkErr.Op != "send" || !errors.Is(err, cause) {
		t.Fatalf("err = %v", sinkErr)
	}
}

func TestRegistryRoutesByIntent(t *testing.T) {
	var fallbackHit, dedicatedHit bool
	fallback := NewActorSink(func(context.Context, string, protocol.Envelope) error {
		fallbackHit = true
		return nil
	})
	reg := NewRegistry(fallback)
	reg.Register(protocol.IntentCallNumber, sinkFunc(func(context.Context, string, protocol.Proposal) error {
		dedicatedHit = true
		return nil
	}))

	if err := reg.Dispatch(context.Background(), "phone-1", protocol.Proposal{Intent: protocol.IntentCallNumber}); err != nil {
		t.Fatalf("Dispatch call_number: %v", err)
	}
	if !dedicatedHit || fallbackHit {
		t.Fatal("call_number should hit the dedicated sink only")
	}

	dedicatedHit = false
	if err := reg.Dispatch(context.Background(), "phone-1", protocol.Proposal{Intent: protocol.IntentOpenApp}); err != nil {
		t.Fatalf("Dispatch open_app: %v", err)
	}
	if !fallbackHit || dedicatedHit {
		t.Fatal("unregistered intent should fall through to the actor sink")
	}
}

type sinkFunc func(ctx context.Context, clientID string, plan protocol.Proposal) error

func (f sinkFunc) Dispatch(ctx context.Context, clientID string, plan protocol.Proposal) error {
	return f(ctx, clientID, plan)
}

func TestTelephonySinkPlacesCall(t *testing.T) {
	var gotAuth string
	var gotReq callRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(callResponse{CallID: "call-42", Status: "ringing"})
	}))
	defer srv.Close()

	sink := NewTelephonySink(srv.URL, "tok-123", 2*time.Second, slog.Default())
	plan := protocol.Proposal{
		RequestID:  "req-7",
		Intent:     protocol.IntentCallNumber,
		Summary:    "Call Rahul about the meeting",
		Parameters: map[string]string{"to": "Rahul"},
	}
	if err := sink.Dispatch(context.Background(), "phone-1", plan); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotReq.To != "Rahul" || gotReq.RequestID != "req-7" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestTelephonySinkProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "insufficient balance", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	sink := NewTelephonySink(srv.URL, "tok", 2*time.Second, slog.Default())
	err := sink.Dispatch(context.Background(), "phone-1", protocol.Proposal{
		RequestID: "req-8",
		Intent:    protocol.IntentCallNumber,
	})
	var sinkErr *Error
	if !errors.As(err, &sinkErr) {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if sinkErr.Op != "dial" {
		t.Fatalf("op = %q", sinkErr.Op)
	}
}
