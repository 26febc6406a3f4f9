// Package audit is the append-only event log. Every protocol transition
// emits exactly one event. Writes are fire-and-forget: failures are dropped
// rather than allowed to block or fail protocol processing.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/actionbridge/internal/shared"
	"github.com/google/uuid"
)

// Event types emitted across the protocol surface.
const (
	EventAuthSuccess        = "auth_success"
	EventAuthFailed         = "auth_failed"
	EventAuthTimeout        = "auth_timeout"
	EventSessionReplaced    = "session_replaced"
	EventSessionEvicted     = "session_evicted"
	EventProposalCreated    = "proposal_created"
	EventProposalRejected   = "proposal_rejected"
	EventDoubleConfirmAsked = "double_confirm_required"
	EventProposalConfirmed  = "proposal_confirmed"
	EventProposalCancelled  = "proposal_cancelled"
	EventTerminalReplay     = "terminal_replay"
	EventExecuteDispatched  = "execute_dispatched"
	EventExecutionFailed    = "execution_failed"
	EventUpstreamError      = "upstream_error"
	EventKillSwitchOn       = "killswitch_activated"
	EventKillSwitchOff      = "killswitch_deactivated"
	EventKillSwitchDropped  = "notification_dropped_killswitch"
	EventKillSwitchRefused  = "session_refused_killswitch"
)

type entry struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	db          *sql.DB
	rejectCount atomic.Int64
)

// Init opens the JSONL audit file under homeDir/logs. Idempotent.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

// Close releases the JSONL file handle.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RejectCount returns the total number of proposal rejections since startup.
func RejectCount() int64 {
	return rejectCount.Load()
}

// Record appends one audit event. Secrets are redacted before persistence;
// write errors are intentionally discarded.
func Record(eventType, requestID string, detail map[string]string) {
	if eventType == EventProposalRejected {
		rejectCount.Add(1)
	}

	detail = shared.RedactMap(detail)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			EventType: eventType,
			RequestID: requestID,
			Detail:    detail,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		detailJSON, _ := json.Marshal(detail)
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (id, event_type, request_id, detail)
			VALUES (?, ?, ?, ?);
		`, uuid.NewString(), eventType, requestID, string(detailJSON))
	}
}
