package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/actionbridge/internal/persistence"
)

func TestNewSweeperRejectsBadCron(t *testing.T) {
	_, err := NewSweeper(Config{CronExpr: "not a cron"})
	if err == nil {
		t.Fatal("expected parse error for malformed cron expression")
	}
}

func TestNewSweeperParsesStandardCron(t *testing.T) {
	store := openStore(t)
	s, err := NewSweeper(Config{
		Store:        store,
		AuditLogDays: 90,
		CronExpr:     "0 3 * * *",
	})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if s.next.IsZero() {
		t.Fatal("next run must be scheduled")
	}
	if s.next.Hour() != 3 || s.next.Minute() != 0 {
		t.Fatalf("next run = %v, want 03:00", s.next)
	}
}

func TestSweepPurgesAgedRows(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	insert := `INSERT INTO audit_log (id, event_type, request_id, detail, created_at) VALUES (?, 'auth_success', '', '{}', ?);`
	if _, err := store.DB().ExecContext(ctx, insert, "old", time.Now().UTC().AddDate(0, 0, -365)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, insert, "fresh", time.Now().UTC()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s, err := NewSweeper(Config{Store: store, AuditLogDays: 90, CronExpr: "* * * * *"})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.sweep(ctx)

	n, err := store.AuditEventCount(ctx)
	if err != nil {
		t.Fatalf("AuditEventCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows after sweep = %d, want 1", n)
	}
}

func TestStartStop(t *testing.T) {
	store := openStore(t)
	s, err := NewSweeper(Config{
		Store:        store,
		AuditLogDays: 90,
		CronExpr:     "0 3 * * *",
		Interval:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start(context.Background())
	s.Stop()
}

func openStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
