// Package scheduler fires saved configurations at a requested future time.
// Schedules are one-shot: each fires once and is then removed. Pending
// schedules persist in the store and are re-armed on startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdhoang/reportfetch/internal/store"
)

// minLead is how far in the future a schedule must be. Anything closer
// should just be started directly.
const minLead = time.Minute

// MisfireGrace is how stale a persisted schedule may be at startup and
// still fire immediately instead of being dropped.
const MisfireGrace = 10 * time.Minute

// Runner starts the run for a saved configuration when its timer fires.
type Runner func(ctx context.Context, configName string) error

// Scheduler arms one timer per pending schedule.
type Scheduler struct {
	Store  *store.Store
	Run    Runner
	Logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(st *store.Store, run Runner, log *slog.Logger) *Scheduler {
	return &Scheduler{Store: st, Run: run, Logger: log, timers: make(map[string]*time.Timer)}
}

// Schedule arms a new one-shot schedule for the named configuration. The
// fire time must be at least a minute out.
func (s *Scheduler) Schedule(ctx context.Context, configName string, at time.Time) (store.Schedule, error) {
	if time.Until(at) < minLead {
		return store.Schedule{}, fmt.Errorf("schedule time must be at least %s in the future", minLead)
	}
	if _, err := s.Store.LoadConfig(ctx, configName); err != nil {
		return store.Schedule{}, err
	}
	sched := store.Schedule{
		ID:         uuid.NewString(),
		ConfigName: configName,
		RunAt:      at,
		CreatedAt:  time.Now(),
	}
	if err := s.Store.AddSchedule(ctx, sched); err != nil {
		return store.Schedule{}, err
	}
	s.arm(sched)
	s.Logger.Info("schedule armed", "id", sched.ID, "config", configName, "run_at", at)
	return sched, nil
}

// Cancel disarms and removes a pending schedule.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	return s.Store.RemoveSchedule(ctx, id)
}

// List returns the pending schedules.
func (s *Scheduler) List(ctx context.Context) ([]store.Schedule, error) {
	return s.Store.ListSchedules(ctx)
}

// Restore re-arms persisted schedules after a restart. Schedules whose fire
// time passed within the grace window fire immediately; older ones are
// dropped with a log line.
func (s *Scheduler) Restore(ctx context.Context) error {
	pending, err := s.Store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, sched := range pending {
		switch {
		case sched.RunAt.After(now):
			s.arm(sched)
			s.Logger.Info("schedule restored", "id", sched.ID, "config", sched.ConfigName, "run_at", sched.RunAt)
		case now.Sub(sched.RunAt) <= MisfireGrace:
			s.Logger.Warn("schedule misfired during downtime, firing now", "id", sched.ID, "config", sched.ConfigName)
			go s.fire(sched)
		default:
			s.Logger.Warn("schedule expired during downtime, dropping", "id", sched.ID, "config", sched.ConfigName, "was_due", sched.RunAt)
			if err := s.Store.RemoveSchedule(ctx, sched.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				s.Logger.Error("could not drop expired schedule", "id", sched.ID, "err", err)
			}
		}
	}
	return nil
}

// Stop disarms every timer without touching the store, for shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) arm(sched store.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[sched.ID] = time.AfterFunc(time.Until(sched.RunAt), func() { s.fire(sched) })
}

func (s *Scheduler) fire(sched store.Schedule) {
	s.mu.Lock()
	delete(s.timers, sched.ID)
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.Store.RemoveSchedule(ctx, sched.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.Logger.Error("could not remove fired schedule", "id", sched.ID, "err", err)
	}
	s.Logger.Info("schedule firing", "id", sched.ID, "config", sched.ConfigName)
	if err := s.Run(ctx, sched.ConfigName); err != nil {
		s.Logger.Error("scheduled run failed to start", "id", sched.ID, "config", sched.ConfigName, "err", err)
	}
}
