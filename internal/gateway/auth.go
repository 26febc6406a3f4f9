package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket/wsjson"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/protocol"
)

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// handshake runs the authentication exchange. The first frame must be an
// auth frame carrying the shared secret; anything else, a bad secret, or
// silence past the deadline closes the connection. Returns true only when
// the session was authenticated and registered.
func (s *Server) handshake(ctx context.Context, sess *session, logger *slog.Logger) bool {
	timeout := s.cfg.AuthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// The timer fires only if the read below is still blocked when the
	// deadline passes; closing the conn unblocks it.
	timer := time.AfterFunc(timeout, func() {
		audit.Record(audit.EventAuthTimeout, "", map[string]string{"remote": "actor"})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AuthFailures.Add(context.Background(), 1)
		}
		logger.Warn("auth: handshake deadline passed")
		_ = sess.conn.Close(protocol.CloseAuthTimeout, "authentication timeout")
	})
	defer timer.Stop()

	var env protocol.Envelope
	if err := wsjson.Read(ctx, sess.conn, &env); err != nil {
		return false
	}
	if !timer.Stop() {
		return false
	}

	if env.Type != protocol.TypeAuth {
		s.failAuth(ctx, sess, "", "first frame was not auth", logger)
		return false
	}

	var data protocol.AuthData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.failAuth(ctx, sess, "", "malformed auth payload", logger)
		return false
	}
	if data.ClientID == "" {
		s.failAuth(ctx, sess, "", "missing client id", logger)
		return false
	}
	if s.cfg.APIKey == "" || !secureEqual(data.APIKey, s.cfg.APIKey) {
		s.failAuth(ctx, sess, data.ClientID, "invalid credential", logger)
		return false
	}

	// While the kill switch is engaged no session may come up, valid
	// credential or not. Closed without the credential code so the actor
	// keeps retrying and resumes once the switch clears.
	if s.cfg.Guard.Active() {
		audit.Record(audit.EventKillSwitchRefused, "", map[string]string{"client_id": data.ClientID})
		logger.Warn("auth: session refused while kill switch engaged", "client_id", data.ClientID)
		if out, err := protocol.NewEnvelope(protocol.TypeError, env.RequestID, protocol.ErrorData{Message: "automation halted by kill switch"}); err == nil {
			_ = sess.write(ctx, out)
		}
		_ = sess.conn.Close(protocol.CloseNormal, "automation halted by kill switch")
		return false
	}

	sess.markAuthed(data.ClientID)
	s.registry.add(data.ClientID, sess)
	audit.Record(audit.EventAuthSuccess, "", map[string]string{"client_id": data.ClientID})
	s.cfg.Bus.Publish(bus.TopicSessionOpened, bus.SessionEvent{ClientID: data.ClientID})
	_, reconnect := s.seen.LoadOrStore(data.ClientID, struct{}{})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
		if reconnect {
			s.cfg.Metrics.Reconnects.Add(ctx, 1)
		}
	}

	// An engage landing between the first check and registration would miss
	// this session in the teardown sweep; re-check before the ack. The
	// deferred cleanup in handleWS unwinds the registration.
	if s.cfg.Guard.Active() {
		_ = sess.conn.Close(protocol.CloseNormal, "automation halted by kill switch")
		return false
	}

	ack, err := protocol.NewEnvelope(protocol.TypeAuthSuccess, env.RequestID, protocol.AuthSuccessData{ClientID: data.ClientID})
	if err == nil {
		_ = sess.write(ctx, ack)
	}
	logger.Info("auth: actor authenticated", "client_id", data.ClientID)
	return true
}

// failAuth answers with auth_failed, audits, and closes with the credential
// close code. The generic failure message avoids confirming whether the
// secret or the frame shape was wrong.
func (s *Server) failAuth(ctx context.Context, sess *session, clientID, reason string, logger *slog.Logger) {
	audit.Record(audit.EventAuthFailed, "", map[string]string{
		"client_id": clientID,
		"reason":    reason,
	})
	s.cfg.Bus.Publish(bus.TopicAuthFailed, bus.SessionEvent{ClientID: clientID, Reason: reason})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AuthFailures.Add(ctx, 1)
	}
	logger.Warn("auth: handshake rejected", "error", &AuthError{ClientID: clientID, Reason: reason})

	if env, err := protocol.NewEnvelope(protocol.TypeAuthFailed, "", protocol.AuthFailedData{Message: "authentication failed"}); err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = sess.write(writeCtx, env)
		cancel()
	}
	_ = sess.conn.Close(protocol.CloseInvalidCredential, "authentication failed")
}
