// Package sinks dispatches confirmed plans to their execution targets.
// Most intents execute on the actor device; call_number can optionally be
// routed through a hosted telephony provider instead.
package sinks

import (
	"context"
	"fmt"

	"github.com/basket/actionbridge/internal/protocol"
)

// Error reports a failure while carrying out a confirmed plan. The plan
// stays confirmed; failures are surfaced and audited, never retried blindly.
type Error struct {
	Intent protocol.Intent
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("execute %s: %s: %v", e.Intent, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sink carries out one confirmed plan.
type Sink interface {
	Dispatch(ctx context.Context, clientID string, plan protocol.Proposal) error
}

// SendFunc delivers a frame to the actor session identified by clientID.
type SendFunc func(ctx context.Context, clientID string, env protocol.Envelope) error

// ActorSink hands the confirmed plan back to the actor device, which holds
// the only credentials able to act on it.
type ActorSink struct {
	send SendFunc
}

func NewActorSink(send SendFunc) *ActorSink {
	return &ActorSink{send: send}
}

func (s *ActorSink) Dispatch(ctx context.Context, clientID string, plan protocol.Proposal) error {
	env, err := protocol.NewEnvelope(protocol.TypeExecute, plan.RequestID, protocol.PlanData{Plan: plan})
	if err != nil {
		return &Error{Intent: plan.Intent, Op: "encode", Err: err}
	}
	if err := s.send(ctx, clientID, env); err != nil {
		return &Error{Intent: plan.Intent, Op: "send", Err: err}
	}
	return nil
}

// Registry picks the sink for a given intent, defaulting to the actor.
type Registry struct {
	byIntent map[protocol.Intent]Sink
	fallback Sink
}

func NewRegistry(fallback Sink) *Registry {
	return &Registry{
		byIntent: make(map[protocol.Intent]Sink),
		fallback: fallback,
	}
}

// Register routes an intent to a dedicated sink.
func (r *Registry) Register(intent protocol.Intent, s Sink) {
	r.byIntent[intent] = s
}

func (r *Registry) Dispatch(ctx context.Context, clientID string, plan protocol.Proposal) error {
	if s, ok := r.byIntent[plan.Intent]; ok {
		return s.Dispatch(ctx, clientID, plan)
	}
	return r.fallback.Dispatch(ctx, clientID, plan)
}
