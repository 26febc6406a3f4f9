package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/protocol"
)

// session is one actor connection. Writes are serialized through mu; the
// read loop owns the receive side.
type session struct {
	conn     *websocket.Conn
	clientID string

	mu     sync.Mutex
	authed bool

	connectedAt time.Time
	cancel      context.CancelFunc
}

func (s *session) write(ctx context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, env)
}

func (s *session) markAuthed(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authed = true
	s.clientID = clientID
}

func (s *session) isAuthed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// errNoSession is returned when dispatching to a client that is not connected.
var errNoSession = errors.New("no session for client")

// registry maps client identities to their live session. One session per
// identity; a newer connection replaces the older one.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	events   *bus.Bus
}

func newRegistry(events *bus.Bus) *registry {
	return &registry{
		sessions: make(map[string]*session),
		events:   events,
	}
}

// add registers the session under clientID, force-closing any session that
// previously held the identity.
func (r *registry) add(clientID string, s *session) {
	r.mu.Lock()
	prev := r.sessions[clientID]
	r.sessions[clientID] = s
	r.mu.Unlock()

	if prev != nil {
		audit.Record(audit.EventSessionReplaced, "", map[string]string{"client_id": clientID})
		r.events.Publish(bus.TopicSessionReplaced, bus.SessionEvent{ClientID: clientID, Reason: "newer connection"})
		_ = prev.conn.Close(protocol.CloseNormal, "replaced by newer connection")
		if prev.cancel != nil {
			prev.cancel()
		}
	}
}

// remove unregisters the session, but only if it still owns the identity.
func (r *registry) remove(clientID string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[clientID]; ok && cur == s {
		delete(r.sessions, clientID)
	}
}

func (r *registry) get(clientID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// closeAll tears down every live session, used when the kill switch engages.
func (r *registry) closeAll(reason string) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close(protocol.CloseNormal, reason)
		if s.cancel != nil {
			s.cancel()
		}
	}
}
