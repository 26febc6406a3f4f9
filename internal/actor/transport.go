package actor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/basket/actionbridge/internal/protocol"
)

var (
	errAuthRejected = errors.New("server rejected credential")
	errNotConnected = errors.New("not connected")
	errPongOverdue  = errors.New("application pong overdue")
)

// connection is one dialed session. It sends the auth frame immediately and
// treats everything before auth_success as unusable.
type connection struct {
	cfg    Config
	logger *slog.Logger
	ws     *websocket.Conn

	mu       sync.Mutex
	authed   bool
	lastPong time.Time
}

func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*connection, error) {
	ws, _, err := websocket.Dial(ctx, cfg.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	c := &connection{cfg: cfg, logger: logger, ws: ws}

	env, err := protocol.NewEnvelope(protocol.TypeAuth, uuid.NewString(), protocol.AuthData{
		APIKey:   cfg.APIKey,
		ClientID: cfg.ClientID,
	})
	if err != nil {
		c.close()
		return nil, err
	}
	if err := c.write(ctx, env); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (c *connection) close() {
	_ = c.ws.Close(protocol.CloseNormal, "bye")
}

func (c *connection) write(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, env)
}

func (c *connection) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *connection) markPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

func (c *connection) pongAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPong.IsZero() {
		return 0
	}
	return time.Since(c.lastPong)
}

// notify relays a device notification once the session is authenticated.
func (c *connection) notify(ctx context.Context, n protocol.Notification) error {
	if !c.authenticated() {
		return errNotConnected
	}
	env, err := protocol.NewEnvelope(protocol.TypeNotification, uuid.NewString(), n)
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// serve runs the read loop until the connection drops or the credential is
// rejected. The application ping loop starts after auth_success.
func (c *connection) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			if websocket.CloseStatus(err) == protocol.CloseInvalidCredential {
				return errAuthRejected
			}
			return err
		}
		if err := c.handleFrame(ctx, env, cancel); err != nil {
			return err
		}
	}
}

func (c *connection) handleFrame(ctx context.Context, env protocol.Envelope, cancel context.CancelFunc) error {
	switch env.Type {
	case protocol.TypeAuthSuccess:
		c.mu.Lock()
		c.authed = true
		c.lastPong = time.Now()
		c.mu.Unlock()
		c.logger.Info("session authenticated", "client_id", c.cfg.ClientID)
		go c.pingLoop(ctx, cancel)

	case protocol.TypeAuthFailed:
		return errAuthRejected

	case protocol.TypeActionProposed:
		c.decide(ctx, env, false)

	case protocol.TypeDoubleConfirmRequired:
		c.decide(ctx, env, true)

	case protocol.TypeExecute:
		c.execute(ctx, env)

	case protocol.TypeActionRejected:
		var data protocol.RejectedData
		_ = json.Unmarshal(env.Data, &data)
		c.logger.Info("action rejected", "request_id", env.RequestID, "reason", data.Reason)

	case protocol.TypeActionCancelled:
		c.logger.Info("action cancelled", "request_id", env.RequestID)

	case protocol.TypePong:
		c.markPong()

	case protocol.TypeError:
		var data protocol.ErrorData
		_ = json.Unmarshal(env.Data, &data)
		c.logger.Warn("server error", "request_id", env.RequestID, "message", data.Message)

	default:
		c.logger.Warn("unknown frame", "type", env.Type)
	}
	return nil
}

// decide prompts the confirmer and answers with confirm or reject. Runs off
// the read loop so a slow human answer never stalls liveness.
func (c *connection) decide(ctx context.Context, env protocol.Envelope, doubleConfirm bool) {
	var data protocol.PlanData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.logger.Warn("malformed plan frame", "request_id", env.RequestID, "error", err)
		return
	}
	go func() {
		approved, err := c.cfg.Confirmer.Confirm(ctx, data.Plan, doubleConfirm)
		if err != nil {
			c.logger.Error("confirmer failed", "request_id", env.RequestID, "error", err)
			approved = false
		}

		var out protocol.Envelope
		var encErr error
		if approved {
			out, encErr = protocol.NewEnvelope(protocol.TypeActionConfirm, env.RequestID, protocol.ActionConfirmData{
				Plan:            data.Plan,
				DoubleConfirmed: doubleConfirm,
			})
		} else {
			out, encErr = protocol.NewEnvelope(protocol.TypeActionReject, env.RequestID, protocol.ActionRejectData{
				Intent: data.Plan.Intent,
			})
		}
		if encErr != nil {
			return
		}
		if err := c.write(ctx, out); err != nil {
			c.logger.Warn("decision write failed", "request_id", env.RequestID, "error", err)
		}
	}()
}

// execute runs a confirmed plan through the local executor, unless the kill
// switch engaged after confirmation.
func (c *connection) execute(ctx context.Context, env protocol.Envelope) {
	var data protocol.PlanData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.logger.Warn("malformed execute frame", "request_id", env.RequestID, "error", err)
		return
	}
	if c.cfg.Guard != nil && c.cfg.Guard.Active() {
		c.logger.Warn("execute dropped, kill switch engaged", "request_id", env.RequestID)
		return
	}
	go func() {
		if err := c.cfg.Executor.Execute(ctx, data.Plan); err != nil {
			c.logger.Error("execution failed", "request_id", env.RequestID, "intent", data.Plan.Intent, "error", err)
			return
		}
		c.logger.Info("executed", "request_id", env.RequestID, "intent", data.Plan.Intent)
	}()
}

// pingLoop sends application pings and forces a reconnect when a pong is
// overdue past the grace window. Transport pings are the server's job; this
// loop proves the application layer end to end.
func (c *connection) pingLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.AppPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if age := c.pongAge(); age > c.cfg.AppPingInterval+c.cfg.PongGrace {
				c.logger.Warn("stale session, forcing reconnect", "pong_age", age, "error", errPongOverdue)
				_ = c.ws.Close(websocket.StatusGoingAway, "application pong overdue")
				cancel()
				return
			}
			env, err := protocol.NewEnvelope(protocol.TypePing, uuid.NewString(), nil)
			if err != nil {
				continue
			}
			if err := c.write(ctx, env); err != nil {
				c.logger.Warn("ping write failed", "error", err)
				cancel()
				return
			}
		}
	}
}
