// Package schedule starts healing runs from cron expressions in the config.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
)

// Starter accepts runs; *orchestrator.Service satisfies it
type Starter interface {
	StartRun(ctx context.Context, req orchestrator.RunRequest) (string, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

type entry struct {
	cfg   config.ScheduleConfig
	sched cron.Schedule
}

// Scheduler checks every minute which schedules are due and starts them
type Scheduler struct {
	entries map[string]entry
	starter Starter
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	lastRun map[string]time.Time
	lastID  map[string]string
}

// NewScheduler validates every schedule. Names must be unique.
func NewScheduler(configs []config.ScheduleConfig, starter Starter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		entries: make(map[string]entry),
		starter: starter,
		logger:  logger.Named("schedule"),
		now:     time.Now,
		lastRun: make(map[string]time.Time),
		lastID:  make(map[string]string),
	}
	for i, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("schedule %d: name is required", i)
		}
		if _, dup := s.entries[cfg.Name]; dup {
			return nil, fmt.Errorf("schedule %q defined twice", cfg.Name)
		}
		sched, err := ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid cron expression: %w", cfg.Name, err)
		}
		s.entries[cfg.Name] = entry{cfg: cfg, sched: sched}
	}
	return s, nil
}

// Names returns the schedule names, sorted
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns when the named schedule fires next
func (s *Scheduler) NextRun(name string) time.Time {
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return e.sched.Next(s.now())
}

// LastRunID returns the run started by the most recent firing
func (s *Scheduler) LastRunID(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID[name]
}

// shouldRun reports whether a firing time passed since the last check
func (s *Scheduler) shouldRun(name string, now time.Time) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.mu.RLock()
	last := s.lastRun[name]
	s.mu.RUnlock()
	if last.IsZero() {
		// first check after start only fires for a slot in the last minute
		last = now.Add(-time.Minute)
	}
	return !e.sched.Next(last).After(now)
}

// Start checks schedules every minute until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	s.logger.Info("scheduler started", zap.Strings("schedules", s.Names()))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every due schedule. The orchestrator admits one run at a
// time, so a busy slot is skipped rather than queued.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, name := range s.Names() {
		if !s.shouldRun(name, now) {
			continue
		}
		s.mu.Lock()
		s.lastRun[name] = now
		s.mu.Unlock()

		e := s.entries[name]
		logger := s.logger.With(zap.String("schedule", name))
		req, err := Request(e.cfg)
		if err != nil {
			logger.Error("building run request failed", zap.Error(err))
			continue
		}
		id, err := s.starter.StartRun(ctx, req)
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			logger.Info("skipped, a run is already in progress")
		case err != nil:
			logger.Error("starting scheduled run failed", zap.Error(err))
		default:
			s.mu.Lock()
			s.lastID[name] = id
			s.mu.Unlock()
			logger.Info("scheduled run started", zap.String("run_id", id))
		}
	}
}
