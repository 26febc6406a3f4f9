package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/confirm"
	obs "github.com/basket/actionbridge/internal/otel"
	"github.com/basket/actionbridge/internal/planner"
	"github.com/basket/actionbridge/internal/protocol"
	"github.com/basket/actionbridge/internal/validate"
)

// route dispatches one authenticated frame. Plan generation leaves the read
// loop; everything else is answered inline.
func (s *Server) route(ctx context.Context, sess *session, env protocol.Envelope, logger *slog.Logger) {
	ctx, span := obs.StartServerSpan(ctx, s.tracer, "gateway.frame",
		obs.AttrClientID.String(sess.clientID),
		obs.AttrFrameType.String(env.Type),
	)
	defer span.End()

	switch env.Type {
	case protocol.TypeNotification:
		s.handleNotification(ctx, sess, env, logger)
	case protocol.TypeActionConfirm:
		s.handleConfirm(ctx, sess, env, logger)
	case protocol.TypeActionReject:
		s.handleReject(ctx, sess, env, logger)
	case protocol.TypePing:
		s.handlePing(ctx, sess, env)
	default:
		perr := &ProtocolError{FrameType: env.Type, Reason: "unknown frame type"}
		logger.Warn("router: dropping frame", "type", env.Type, "error", perr)
		s.sendError(ctx, sess, env.RequestID, perr.Error())
	}
}

func (s *Server) handleNotification(ctx context.Context, sess *session, env protocol.Envelope, logger *slog.Logger) {
	// Kill switch drops the event before any plan is generated.
	if s.cfg.Guard.Active() {
		audit.Record(audit.EventKillSwitchDropped, env.RequestID, map[string]string{"client_id": sess.clientID})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.KillSwitchDrops.Add(ctx, 1)
		}
		s.sendError(ctx, sess, env.RequestID, "automation halted by kill switch")
		return
	}

	var n protocol.Notification
	if err := json.Unmarshal(env.Data, &n); err != nil {
		s.sendError(ctx, sess, env.RequestID, "malformed notification payload")
		return
	}
	requestID := env.RequestID
	if requestID == "" {
		s.sendError(ctx, sess, "", "notification requires a request id")
		return
	}

	timeout := s.cfg.PlannerTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	go func() {
		planCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		planCtx, span := obs.StartClientSpan(planCtx, s.tracer, "planner.plan",
			obs.AttrClientID.String(sess.clientID),
			obs.AttrRequestID.String(requestID),
		)
		start := time.Now()
		raw, err := s.cfg.Planner.Plan(planCtx, n)
		span.End()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.PlannerDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.PlannerErrors.Add(ctx, 1)
			}
			var ue *planner.UpstreamError
			if errors.As(err, &ue) {
				audit.Record(audit.EventUpstreamError, requestID, map[string]string{"op": ue.Op, "error": ue.Err.Error()})
			}
			logger.Error("planner failed", "request_id", requestID, "error", err)
			s.sendError(ctx, sess, requestID, "could not generate a plan for this notification")
			return
		}

		raw.RequestID = requestID
		s.proposePlan(ctx, sess, raw, logger)
	}()
}

// proposePlan validates a raw plan and either proposes it to the actor or
// answers with the rejection.
func (s *Server) proposePlan(ctx context.Context, sess *session, raw protocol.Proposal, logger *slog.Logger) {
	plan, err := validate.Validate(raw)
	if err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ValidationRejects.Add(ctx, 1)
		}
		var verr *validate.Error
		reason, humanText := err.Error(), "This action could not be validated."
		if errors.As(err, &verr) {
			reason, humanText = verr.Reason, verr.HumanText()
		}
		audit.Record(audit.EventProposalRejected, raw.RequestID, map[string]string{
			"client_id": sess.clientID,
			"intent":    string(raw.Intent),
			"reason":    reason,
		})
		logger.Info("plan rejected", "request_id", raw.RequestID, "intent", raw.Intent, "reason", reason)
		s.send(ctx, sess, protocol.TypeActionRejected, raw.RequestID, protocol.RejectedData{Reason: reason, HumanText: humanText})
		return
	}

	if err := s.cfg.Machine.Propose(sess.clientID, plan); err != nil {
		logger.Warn("propose refused", "request_id", plan.RequestID, "error", err)
		s.sendError(ctx, sess, plan.RequestID, "duplicate request id")
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ProposalsCreated.Add(ctx, 1)
	}
	logger.Info("plan proposed",
		"request_id", plan.RequestID,
		"intent", plan.Intent,
		"risk_tier", plan.RiskTier,
		"double_confirm", plan.DoubleConfirmRequired,
	)
	s.send(ctx, sess, protocol.TypeActionProposed, plan.RequestID, protocol.PlanData{Plan: plan})
}

func (s *Server) handleConfirm(ctx context.Context, sess *session, env protocol.Envelope, logger *slog.Logger) {
	var data protocol.ActionConfirmData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(ctx, sess, env.RequestID, "malformed confirm payload")
		return
	}

	out := s.cfg.Machine.Confirm(env.RequestID, data.Plan, data.DoubleConfirmed)
	switch out.Decision {
	case confirm.DecisionExecute:
		s.dispatch(ctx, sess, out.Proposal, logger)
	case confirm.DecisionDoubleConfirm:
		logger.Info("double confirmation required", "request_id", env.RequestID, "risk_tier", out.Proposal.RiskTier)
		s.send(ctx, sess, protocol.TypeDoubleConfirmRequired, env.RequestID, protocol.PlanData{Plan: out.Proposal})
	case confirm.DecisionRejected:
		logger.Info("confirm rejected", "request_id", env.RequestID, "reason", out.Reason)
		s.send(ctx, sess, protocol.TypeActionRejected, env.RequestID, protocol.RejectedData{
			Reason:    out.Reason,
			HumanText: "This action was withdrawn during confirmation.",
		})
	case confirm.DecisionNoop:
		// Terminal replay: already audited by the machine, no frame owed.
		logger.Info("confirm replay ignored", "request_id", env.RequestID, "status", out.Proposal.Status)
	case confirm.DecisionUnknown:
		s.sendError(ctx, sess, env.RequestID, "no pending proposal for request id")
	}
}

func (s *Server) handleReject(ctx context.Context, sess *session, env protocol.Envelope, logger *slog.Logger) {
	out := s.cfg.Machine.Reject(env.RequestID)
	switch out.Decision {
	case confirm.DecisionCancelled:
		logger.Info("proposal rejected by actor", "request_id", env.RequestID)
		s.send(ctx, sess, protocol.TypeActionCancelled, env.RequestID, protocol.CancelledData{Message: "Okay, I won't do that."})
	case confirm.DecisionNoop:
		logger.Info("reject replay ignored", "request_id", env.RequestID, "status", out.Proposal.Status)
	case confirm.DecisionUnknown:
		s.sendError(ctx, sess, env.RequestID, "no pending proposal for request id")
	}
}

func (s *Server) handlePing(ctx context.Context, sess *session, env protocol.Envelope) {
	s.send(ctx, sess, protocol.TypePong, env.RequestID, protocol.PongData{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// dispatch hands a confirmed plan to its sink. Failures surface as error
// frames; the plan stays confirmed either way.
func (s *Server) dispatch(ctx context.Context, sess *session, plan protocol.Proposal, logger *slog.Logger) {
	ctx, span := obs.StartSpan(ctx, s.tracer, "sink.dispatch",
		obs.AttrRequestID.String(plan.RequestID),
		obs.AttrIntent.String(string(plan.Intent)),
		obs.AttrRiskTier.String(string(plan.RiskTier)),
	)
	defer span.End()

	start := time.Now()
	err := s.sinks.Dispatch(ctx, sess.clientID, plan)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SinkDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		audit.Record(audit.EventExecutionFailed, plan.RequestID, map[string]string{
			"client_id": sess.clientID,
			"intent":    string(plan.Intent),
			"error":     err.Error(),
		})
		logger.Error("execution dispatch failed", "request_id", plan.RequestID, "error", err)
		s.sendError(ctx, sess, plan.RequestID, "the confirmed action could not be carried out")
		return
	}
	audit.Record(audit.EventExecuteDispatched, plan.RequestID, map[string]string{
		"client_id": sess.clientID,
		"intent":    string(plan.Intent),
	})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ProposalsExecuted.Add(ctx, 1)
	}
	logger.Info("execution dispatched", "request_id", plan.RequestID, "intent", plan.Intent)
}

func (s *Server) send(ctx context.Context, sess *session, typ, requestID string, data any) {
	env, err := protocol.NewEnvelope(typ, requestID, data)
	if err != nil {
		return
	}
	if err := sess.write(ctx, env); err != nil {
		s.logger.Warn("ws: write failed", "type", typ, "error", err)
	}
}

func (s *Server) sendError(ctx context.Context, sess *session, requestID, message string) {
	s.send(ctx, sess, protocol.TypeError, requestID, protocol.ErrorData{Message: message})
}
