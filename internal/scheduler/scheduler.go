// Package scheduler runs periodic queue drains. The desktop shell normally
// drains on gateway reconnect; the scheduled drain is the safety net for
// operations that failed earlier and for long-lived online sessions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/helix-desktop/helix-sync/internal/config"
	"github.com/helix-desktop/helix-sync/internal/queue"
)

// DrainFunc runs one drain and reports the tally.
type DrainFunc func(ctx context.Context) queue.Result

// State tracks scheduler execution state
type State struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	RunCount   int64     `json:"runCount"`
	LastSynced int       `json:"lastSynced"`
	LastFailed int       `json:"lastFailed"`
}

// Scheduler triggers drains on an interval or cron schedule.
type Scheduler struct {
	cfg    config.DrainConfig
	drain  DrainFunc
	sched  cron.Schedule
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler from config. The cron expression is validated
// here so a bad schedule fails at startup, not at first fire.
func New(cfg config.DrainConfig, drain DrainFunc, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:    cfg,
		drain:  drain,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}

	if cfg.Enabled && cfg.Kind == "cron" {
		sched, err := cron.ParseStandard(cfg.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		s.sched = sched
	}
	return s, nil
}

// NextRun computes the next fire time after now.
func (s *Scheduler) NextRun(now time.Time) (time.Time, error) {
	switch s.cfg.Kind {
	case "interval":
		return now.Add(time.Duration(s.cfg.IntervalMs) * time.Millisecond), nil
	case "cron":
		if s.sched == nil {
			return time.Time{}, fmt.Errorf("cron schedule not parsed")
		}
		return s.sched.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.cfg.Kind)
	}
}

// Start begins the schedule loop. Disabled schedulers start as a no-op so
// the daemon wiring stays uniform.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.cfg.Enabled {
		s.logger.Info("scheduled drain disabled")
		return nil
	}

	next, err := s.NextRun(time.Now())
	if err != nil {
		return err
	}
	s.state.NextRunAt = next
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("drain scheduler started",
		"kind", s.cfg.Kind,
		"next_run", next.Format(time.RFC3339))
	return nil
}

// Stop stops the schedule loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		next := s.state.NextRunAt
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce fires one drain and advances the schedule.
func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	res := s.drain(ctx)

	s.mu.Lock()
	s.state.LastRunAt = start
	s.state.RunCount++
	s.state.LastSynced = res.Synced
	s.state.LastFailed = res.Failed
	if next, err := s.NextRun(time.Now()); err == nil {
		s.state.NextRunAt = next
	}
	s.mu.Unlock()

	s.logger.Debug("scheduled drain completed",
		"synced", res.Synced,
		"failed", res.Failed,
		"duration", time.Since(start))
}

// State returns a snapshot of the scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
