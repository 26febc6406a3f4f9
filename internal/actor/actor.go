// Package actor is the device-side client: it relays notifications to the
// coordination server, confirms proposed plans, and executes what survives
// confirmation.
package actor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/killswitch"
	"github.com/basket/actionbridge/internal/protocol"
)

// Executor carries out a confirmed plan on the device.
type Executor interface {
	Execute(ctx context.Context, plan protocol.Proposal) error
}

// Confirmer decides whether a proposed plan may proceed. doubleConfirm is
// true when the server asked for the second approval of a high-risk plan.
type Confirmer interface {
	Confirm(ctx context.Context, plan protocol.Proposal, doubleConfirm bool) (bool, error)
}

// Config wires an Actor.
type Config struct {
	ServerURL string
	ClientID  string
	APIKey    string

	Backoff Backoff

	// AppPingInterval is the application-level liveness cycle; PongGrace is
	// the extra slack before a missing pong forces a reconnect.
	AppPingInterval time.Duration // zero means 25s
	PongGrace       time.Duration // zero means 10s

	Guard *killswitch.Guard

	// Events carries kill-switch changes from the guard; an engage closes
	// the live session immediately instead of waiting for the next dial.
	Events *bus.Bus

	Executor  Executor
	Confirmer Confirmer
	Logger    *slog.Logger
}

// Actor owns the connection lifecycle and the device-side pipeline.
type Actor struct {
	cfg    Config
	logger *slog.Logger

	// mu guards conn; Notify and Connected run concurrently with Run.
	mu   sync.Mutex
	conn *connection
}

func New(cfg Config) *Actor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AppPingInterval <= 0 {
		cfg.AppPingInterval = 25 * time.Second
	}
	if cfg.PongGrace <= 0 {
		cfg.PongGrace = 10 * time.Second
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Actor{cfg: cfg, logger: cfg.Logger}
}

// Run connects and keeps the session alive until ctx is cancelled or the
// credential is rejected. Reconnects follow the backoff schedule; a
// successful authentication resets the attempt counter. While the kill
// switch is engaged no connection is held at all.
func (a *Actor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a.cfg.Guard != nil && a.cfg.Guard.Active() {
			a.logger.Warn("kill switch engaged, staying offline")
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		authed, err := a.runOnce(ctx)
		if err == errAuthRejected {
			a.logger.Error("credential rejected, not retrying")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authed {
			attempt = 0
		}

		attempt++
		delay := a.cfg.Backoff.Delay(attempt)
		a.logger.Info("reconnecting", "attempt", attempt, "delay", delay, "error", err)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// runOnce dials, authenticates, and serves one session to completion. The
// bool reports whether the session ever authenticated.
func (a *Actor) runOnce(ctx context.Context) (bool, error) {
	conn, err := dial(ctx, a.cfg, a.logger)
	if err != nil {
		return false, err
	}
	a.setConn(conn)
	stop := a.watchGuard(conn)
	defer func() {
		stop()
		a.setConn(nil)
		conn.close()
	}()
	err = conn.serve(ctx)
	return conn.authenticated(), err
}

// watchGuard closes conn when the kill switch engages mid-session, which
// ends serve's read loop. Returns a stop func for session teardown.
func (a *Actor) watchGuard(conn *connection) func() {
	if a.cfg.Events == nil {
		return func() {}
	}
	sub := a.cfg.Events.Subscribe(bus.TopicKillSwitchChanged)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				ks, ok := ev.Payload.(bus.KillSwitchEvent)
				if !ok || !ks.Active {
					continue
				}
				a.logger.Warn("kill switch engaged, closing session")
				conn.close()
				return
			}
		}
	}()
	return func() {
		close(done)
		a.cfg.Events.Unsubscribe(sub)
	}
}

func (a *Actor) setConn(c *connection) {
	a.mu.Lock()
	a.conn = c
	a.mu.Unlock()
}

func (a *Actor) current() *connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Notify forwards a device notification to the server. Dropped locally when
// the kill switch is engaged, before anything leaves the device.
func (a *Actor) Notify(ctx context.Context, n protocol.Notification) error {
	if a.cfg.Guard != nil && a.cfg.Guard.Active() {
		a.logger.Warn("notification dropped, kill switch engaged", "sender", n.Sender)
		return killswitch.ErrHalted
	}
	conn := a.current()
	if conn == nil {
		return errNotConnected
	}
	return conn.notify(ctx, n)
}

// Connected reports whether an authenticated session is up.
func (a *Actor) Connected() bool {
	conn := a.current()
	return conn != nil && conn.authenticated()
}
