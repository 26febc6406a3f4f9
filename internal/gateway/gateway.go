// Package gateway terminates actor WebSocket sessions and routes their
// frames through the validation and confirmation pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/confirm"
	"github.com/basket/actionbridge/internal/killswitch"
	obs "github.com/basket/actionbridge/internal/otel"
	"github.com/basket/actionbridge/internal/persistence"
	"github.com/basket/actionbridge/internal/planner"
	"github.com/basket/actionbridge/internal/protocol"
	"github.com/basket/actionbridge/internal/shared"
	"github.com/basket/actionbridge/internal/sinks"
)

type Config struct {
	Store   *persistence.Store
	Bus     *bus.Bus
	Planner planner.Planner
	Machine *confirm.Machine
	Guard   *killswitch.Guard

	// APIKey is the shared secret actors must present in the auth frame.
	APIKey string

	AuthTimeout       time.Duration // zero means 10s
	HeartbeatInterval time.Duration // zero means 30s
	PlannerTimeout    time.Duration // zero means 15s

	// ConfigFingerprint is the hash of active config exposed in /healthz.
	ConfigFingerprint string

	Logger  *slog.Logger
	Metrics *obs.Metrics
	Tracer  trace.Tracer
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	registry *registry
	sinks    *sinks.Registry

	// seen tracks client identities that have authenticated before, so a
	// later handshake counts as a reconnect.
	seen sync.Map
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(obs.TracerName)
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		registry: newRegistry(cfg.Bus),
	}
	s.sinks = sinks.NewRegistry(sinks.NewActorSink(s.SendTo))
	return s
}

// Sinks exposes the sink registry so callers can route intents to dedicated
// targets before serving.
func (s *Server) Sinks() *sinks.Registry {
	return s.sinks
}

// SendTo delivers an envelope to the live session for clientID.
func (s *Server) SendTo(ctx context.Context, clientID string, env protocol.Envelope) error {
	sess, ok := s.registry.get(clientID)
	if !ok {
		return errNoSession
	}
	return sess.write(ctx, env)
}

// SessionCount reports live authenticated sessions.
func (s *Server) SessionCount() int {
	return s.registry.count()
}

// WatchKillSwitch tears down all sessions whenever the kill switch engages.
// Run once after construction.
func (s *Server) WatchKillSwitch(ctx context.Context) {
	sub := s.cfg.Bus.Subscribe(bus.TopicKillSwitchChanged)
	go func() {
		defer s.cfg.Bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.Ch():
				ks, ok := ev.Payload.(bus.KillSwitchEvent)
				if !ok || !ks.Active {
					continue
				}
				s.logger.Warn("kill switch engaged, closing sessions", "sessions", s.registry.count())
				s.registry.closeAll("automation halted by kill switch")
			}
		}
	}()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/admin/killswitch", s.handleKillSwitch)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbOK := true
	if _, err := s.cfg.Store.AuditEventCount(ctx); err != nil {
		dbOK = false
	}
	payload := map[string]any{
		"healthy":            dbOK,
		"db_ok":              dbOK,
		"sessions":           s.registry.count(),
		"pending_proposals":  s.cfg.Machine.PendingCount(),
		"kill_switch":        s.cfg.Guard.Active(),
		"config_fingerprint": s.cfg.ConfigFingerprint,
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type killSwitchRequest struct {
	Active bool `json:"active"`
}

// handleKillSwitch lets an operator flip the kill switch over HTTP. Requires
// the shared secret as a bearer token.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active": s.cfg.Guard.Active(),
			"since":  s.cfg.Guard.Since().UTC().Format(time.RFC3339),
		})
	case http.MethodPost:
		var req killSwitchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.cfg.Guard.Set(r.Context(), req.Active); err != nil {
			http.Error(w, "persist failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"active": s.cfg.Guard.Active()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) authorizeAdmin(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return secureEqual(token, s.cfg.APIKey)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	sess := &session{conn: conn, connectedAt: time.Now(), cancel: cancel}
	logger := s.logger.With("trace_id", shared.TraceID(ctx))
	logger.Info("ws: actor connected")

	defer func() {
		cancel()
		if sess.isAuthed() {
			s.registry.remove(sess.clientID, sess)
			dropped := s.cfg.Machine.DropClient(sess.clientID)
			s.cfg.Bus.Publish(bus.TopicSessionClosed, bus.SessionEvent{ClientID: sess.clientID, Reason: "disconnect"})
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
			}
			logger.Info("ws: actor disconnected",
				"client_id", sess.clientID,
				"dropped_proposals", dropped,
				"session_duration", time.Since(sess.connectedAt),
			)
		}
		_ = conn.Close(protocol.CloseNormal, "bye")
	}()

	if !s.handshake(ctx, sess, logger) {
		return
	}
	logger = logger.With("client_id", sess.clientID)

	go s.livenessLoop(ctx, sess, logger)

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			logger.Info("ws: read loop ended", "error", err)
			return
		}
		s.route(ctx, sess, env, logger)
	}
}
