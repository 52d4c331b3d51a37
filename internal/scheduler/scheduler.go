package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Ingester runs one scheduled ingest.
type Ingester interface {
	Ingest(ctx context.Context) error
}

// Scheduler manages the cron-driven ingest.
type Scheduler struct {
	Cron     *cron.Cron
	Ingester Ingester
	Ctx      context.Context
	Timeout  time.Duration
}

// NewScheduler creates a scheduler evaluating specs in timezone. Overlapping runs are
// skipped rather than queued.
func NewScheduler(ctx context.Context, ing Ingester, timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{Cron: c, Ingester: ing, Ctx: ctx, Timeout: 30 * time.Minute}, nil
}

// Register adds the ingest task at spec (six fields, seconds first).
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.ingestTask); err != nil {
		return fmt.Errorf("register ingest task: %w", err)
	}
	return nil
}

// Next returns the next scheduled run, or the zero time when nothing is registered.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	now := time.Now().In(s.Cron.Location())
	for _, e := range s.Cron.Entries() {
		if n := e.Schedule.Next(now); next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	slog.Info("scheduler started", "next", s.Next())
}

// Stop stops the cron scheduler and waits for a running ingest to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow executes the ingest immediately (for --run-now).
func (s *Scheduler) RunNow() {
	s.ingestTask()
}

func (s *Scheduler) ingestTask() {
	if s.Ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.Ctx, s.Timeout)
	defer cancel()

	slog.Info("running scheduled ingest")
	if err := s.Ingester.Ingest(ctx); err != nil {
		slog.Error("scheduled ingest failed", "error", err)
		return
	}
	slog.Info("scheduled ingest finished")
}

// IngestFunc adapts a function to Ingester.
type IngestFunc func(ctx context.Context) error

// Ingest implements Ingester.
func (f IngestFunc) Ingest(ctx context.Context) error { return f(ctx) }
