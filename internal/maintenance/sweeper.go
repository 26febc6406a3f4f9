// Package maintenance runs the periodic retention sweep that keeps the audit
// history bounded.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/actionbridge/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the retention sweeper.
type Config struct {
	Store        *persistence.Store
	Logger       *slog.Logger
	AuditLogDays int
	CronExpr     string        // when the sweep runs; standard 5-field cron
	Interval     time.Duration // tick interval; defaults to 1 minute if zero
}

// Sweeper wakes up every tick and runs retention when the schedule is due.
type Sweeper struct {
	store    *persistence.Store
	logger   *slog.Logger
	days     int
	schedule cronlib.Schedule
	interval time.Duration

	next   time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a new Sweeper with the given config.
func NewSweeper(cfg Config) (*Sweeper, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := cronParser.Parse(cfg.CronExpr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		store:    cfg.Store,
		logger:   logger,
		days:     cfg.AuditLogDays,
		schedule: sched,
		interval: interval,
		next:     sched.Next(time.Now()),
	}, nil
}

// Start begins the sweeper loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention sweeper started", "next_run_at", s.next)
}

// Stop cancels the sweeper loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(s.next) {
				continue
			}
			s.sweep(ctx)
			s.next = s.schedule.Next(now)
		}
	}
}

// sweep runs retention once. Errors are logged, never fatal.
func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.store.RunRetention(ctx, s.days)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	s.logger.Info("retention sweep complete", "purged_audit_logs", res.PurgedAuditLogs)
}
