package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"catalog_sync/config"
	"catalog_sync/models"
	"catalog_sync/syncer"
)

// Runner is the part of the sync driver the scheduler triggers.
type Runner interface {
	RunAll(ctx context.Context) (*models.SyncStats, error)
	Step(ctx context.Context) (*syncer.StepResult, error)
}

// Scheduler fires checkpointed steps and full runs on cron schedules. A
// trigger that finds a sync already running is skipped, not queued.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	cron   *cron.Cron
}

func New(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	scheduled := 0

	if s.cfg.StepCron != "" {
		log.Printf("Scheduler: checkpointed step on %q", s.cfg.StepCron)
		if _, err := s.cron.AddFunc(s.cfg.StepCron, func() { s.step(ctx) }); err != nil {
			return fmt.Errorf("invalid SYNC_CRON expression: %w", err)
		}
		scheduled++
	}

	if s.cfg.FullCron != "" {
		log.Printf("Scheduler: full sync on %q", s.cfg.FullCron)
		if _, err := s.cron.AddFunc(s.cfg.FullCron, func() { s.full(ctx) }); err != nil {
			return fmt.Errorf("invalid FULL_SYNC_CRON expression: %w", err)
		}
		scheduled++
	}

	if scheduled == 0 {
		log.Println("Scheduler: no schedule configured, syncs run only on request")
		return nil
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) step(ctx context.Context) {
	res, err := s.runner.Step(ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		log.Println("Scheduler: step skipped, a sync is already running")
	case err != nil:
		log.Printf("Scheduler: step error: %v", err)
	default:
		log.Printf("Scheduler: step %s page %d (%s)", res.Action, res.Page, res.Outcome)
	}
}

func (s *Scheduler) full(ctx context.Context) {
	stats, err := s.runner.RunAll(ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		log.Println("Scheduler: full sync skipped, a sync is already running")
	case err != nil:
		log.Printf("Scheduler: full sync error: %v", err)
	default:
		log.Printf("Scheduler: full sync done, %d listings synced", stats.ListingsSynced)
	}
}
