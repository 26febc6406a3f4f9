// Package killswitch implements the process-wide manual override. While the
// switch is active, no inbound event may reach the validator and any active
// session is torn down. State survives restarts through a pluggable store.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
)

// ErrHalted is returned for work refused while the switch is engaged.
var ErrHalted = errors.New("automation halted by kill switch")

// Store persists kill-switch state across restarts.
type Store interface {
	LoadKillSwitch(ctx context.Context) (active bool, since time.Time, err error)
	SaveKillSwitch(ctx context.Context, active bool, since time.Time) error
}

// Guard is the single process-wide kill-switch instance. It is toggled only
// by the local operator, never remotely.
type Guard struct {
	mu     sync.RWMutex
	active bool
	since  time.Time
	store  Store
	events *bus.Bus
}

// New loads persisted state from the store. A load failure is fatal to the
// caller: running without known kill-switch state is not safe.
func New(ctx context.Context, store Store, events *bus.Bus) (*Guard, error) {
	g := &Guard{store: store, events: events}
	if store != nil {
		active, since, err := store.LoadKillSwitch(ctx)
		if err != nil {
			return nil, fmt.Errorf("load kill switch state: %w", err)
		}
		g.active = active
		g.since = since
	}
	return g, nil
}

// Active reports whether the switch is currently engaged.
func (g *Guard) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Since returns the activation timestamp, zero when inactive.
func (g *Guard) Since() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.since
}

// Reload re-reads the persisted state, adopting edits made outside this
// process without writing the store back. A change is audited and announced
// exactly like Set.
func (g *Guard) Reload(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	active, since, err := g.store.LoadKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("load kill switch state: %w", err)
	}

	g.mu.Lock()
	changed := g.active != active
	g.active = active
	g.since = since
	g.mu.Unlock()
	if !changed {
		return nil
	}

	if active {
		audit.Record(audit.EventKillSwitchOn, "", map[string]string{"since": since.Format(time.RFC3339)})
	} else {
		audit.Record(audit.EventKillSwitchOff, "", nil)
	}
	if g.events != nil {
		g.events.Publish(bus.TopicKillSwitchChanged, bus.KillSwitchEvent{Active: active})
	}
	return nil
}

// Set flips the switch, persists the new state, and announces the change.
// Setting the current value again is a no-op.
func (g *Guard) Set(ctx context.Context, active bool) error {
	g.mu.Lock()
	if g.active == active {
		g.mu.Unlock()
		return nil
	}
	g.active = active
	if active {
		g.since = time.Now().UTC()
	} else {
		g.since = time.Time{}
	}
	since := g.since
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveKillSwitch(ctx, active, since); err != nil {
			return fmt.Errorf("persist kill switch state: %w", err)
		}
	}

	if active {
		audit.Record(audit.EventKillSwitchOn, "", map[string]string{"since": since.Format(time.RFC3339)})
	} else {
		audit.Record(audit.EventKillSwitchOff, "", nil)
	}
	if g.events != nil {
		g.events.Publish(bus.TopicKillSwitchChanged, bus.KillSwitchEvent{Active: active})
	}
	return nil
}
