package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
)

// livenessLoop probes the transport at the configured interval and evicts
// the session on the first failed probe. Runs for the life of the session.
func (s *Server) livenessLoop(ctx context.Context, sess *session, logger *slog.Logger) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := sess.conn.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			audit.Record(audit.EventSessionEvicted, "", map[string]string{
				"client_id": sess.clientID,
				"reason":    "heartbeat failure",
			})
			s.cfg.Bus.Publish(bus.TopicSessionEvicted, bus.SessionEvent{ClientID: sess.clientID, Reason: "heartbeat failure"})
			logger.Warn("liveness: evicting unresponsive session", "client_id", sess.clientID, "error", err)
			_ = sess.conn.Close(websocket.StatusGoingAway, "heartbeat failure")
			if sess.cancel != nil {
				sess.cancel()
			}
			return
		}
	}
}
