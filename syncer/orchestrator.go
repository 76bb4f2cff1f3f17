package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"catalog_sync/config"
	"catalog_sync/crm"
	"catalog_sync/models"
	"catalog_sync/services"
	"catalog_sync/storage"
)

// ErrSyncInProgress is returned when a run is requested while another one
// is still going in this process.
var ErrSyncInProgress = errors.New("a sync is already running")

// Catalog is the CRM surface the driver pages through.
type Catalog interface {
	ListPage(ctx context.Context, page, pageSize int) ([]string, error)
	Pages(ctx context.Context, startPage, pageSize int) iter.Seq2[crm.Page, error]
	FetchDetails(ctx context.Context, id string) (*models.CRMListing, error)
}

type Orchestrator struct {
	catalog    Catalog
	listings   *services.ListingService
	runs       storage.RunStore
	tracker    *Tracker
	pageSize   int
	batchDelay time.Duration
	limits     services.RetryLimits

	running atomic.Bool
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg *config.Config, catalog Catalog, listings *services.ListingService, store storage.Store) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		listings:   listings,
		runs:       store,
		tracker:    NewTracker(store),
		pageSize:   cfg.CRM.PageSize,
		batchDelay: cfg.Sync.BatchDelay,
		limits: services.RetryLimits{
			Soft: cfg.Sync.SoftRetryLimit,
			Hard: cfg.Sync.HardRetryLimit,
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

func (o *Orchestrator) acquire() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	return nil
}

func (o *Orchestrator) release() {
	o.running.Store(false)
}

// RunAll walks the whole catalog from page 1, pausing between full pages.
// Listing failures are logged and counted; failing to fetch a page of ids
// aborts the run.
func (o *Orchestrator) RunAll(ctx context.Context) (*models.SyncStats, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	run := o.startRun(ctx, models.RunModeFlat)
	stats := &models.SyncStats{}

	err := o.runPages(ctx, stats)
	o.finishRun(ctx, run, stats, err)
	if err != nil {
		return stats, err
	}

	log.Printf("Sync: full run complete, %d pages, %d listings synced (%d new), %d errors",
		stats.PagesFetched, stats.ListingsSynced, stats.ListingsNew, stats.Errors)
	return stats, nil
}

func (o *Orchestrator) runPages(ctx context.Context, stats *models.SyncStats) error {
	for page, err := range o.catalog.Pages(ctx, 1, o.pageSize) {
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page.Number, err)
		}

		stats.PagesFetched++
		log.Printf("Sync: page %d, %d listings", page.Number, len(page.IDs))
		if err := o.syncIDs(ctx, page.IDs, stats); err != nil {
			return fmt.Errorf("page %d interrupted: %w", page.Number, err)
		}

		if !page.Full(o.pageSize) {
			break
		}

		log.Printf("Sync: waiting %s before page %d", o.batchDelay, page.Number+1)
		if err := o.sleep(ctx, o.batchDelay); err != nil {
			return err
		}
	}
	return nil
}

// SyncPage fetches one page of ids and syncs every listing on it.
func (o *Orchestrator) SyncPage(ctx context.Context, page int) (models.SyncStats, error) {
	var stats models.SyncStats

	ids, err := o.catalog.ListPage(ctx, page, o.pageSize)
	if err != nil {
		return stats, fmt.Errorf("fetch page %d: %w", page, err)
	}
	stats.PagesFetched = 1
	log.Printf("Sync: page %d, %d listings", page, len(ids))

	if err := o.syncIDs(ctx, ids, &stats); err != nil {
		return stats, fmt.Errorf("page %d interrupted: %w", page, err)
	}
	return stats, nil
}

// syncIDs syncs the listings in order. Per-listing failures are counted and
// logged; cancellation stops the loop and is returned so the page is never
// reported as done.
func (o *Orchestrator) syncIDs(ctx context.Context, ids []string, stats *models.SyncStats) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.ListingsSeen++

		res, err := o.syncOne(ctx, id)
		if err != nil && ctx.Err() != nil {
			log.Printf("[warn] Sync: listing %s interrupted: %v", id, err)
			return ctx.Err()
		}
		if err != nil {
			stats.Errors++
			if errors.Is(err, crm.ErrNotFound) {
				log.Printf("[warn] Sync: listing %s not found upstream", id)
			} else {
				log.Printf("[error] Sync: listing %s: %v", id, err)
			}
			if res == nil {
				continue
			}
		}

		stats.ListingsSynced++
		if res.IsNew {
			stats.ListingsNew++
		}
		stats.PhotosSaved += res.Photos.Saved()
		stats.PhotosFailed += res.Photos.Failed
	}
	return ctx.Err()
}

func (o *Orchestrator) syncOne(ctx context.Context, id string) (*services.SyncResult, error) {
	payload, err := o.catalog.FetchDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.listings.SyncListing(ctx, payload)
}

// SyncListing syncs a single listing on demand.
func (o *Orchestrator) SyncListing(ctx context.Context, id string) (*services.SyncResult, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	run := o.startRun(ctx, models.RunModeSingle)
	stats := &models.SyncStats{ListingsSeen: 1}

	res, err := o.syncOne(ctx, id)
	if res != nil {
		stats.ListingsSynced = 1
		if res.IsNew {
			stats.ListingsNew = 1
		}
		stats.PhotosSaved = res.Photos.Saved()
		stats.PhotosFailed = res.Photos.Failed
	}
	if err != nil {
		stats.Errors = 1
	}
	o.finishRun(ctx, run, stats, err)
	return res, err
}

// StepResult describes one checkpointed step.
type StepResult struct {
	Action    services.StepAction  `json:"action"`
	Page      int                  `json:"page"`
	Bootstrap bool                 `json:"bootstrap"`
	Outcome   string               `json:"outcome"`
	Stats     models.SyncStats     `json:"stats"`
	Progress  *models.SyncProgress `json:"progress"`
}

// Step runs one transition of the day's checkpoint: it decides on the
// current record, marks the page in progress, syncs it and records the
// outcome. The record is only ever moved with compare-and-swap.
func (o *Orchestrator) Step(ctx context.Context) (*StepResult, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	now := o.now()
	rec, created, err := o.tracker.Load(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	plan := services.PlanStep(rec, now, o.limits)
	result := &StepResult{Action: plan.Action, Page: plan.Page, Bootstrap: created}
	log.Printf("Sync: step %s page %d (attempts %d, status %s)",
		plan.Action, plan.Page, plan.Current.Attempts, plan.Current.Status)

	if !plan.ShouldSync() {
		next := plan.Finish(services.OutcomeSynced, o.now())
		if err := o.tracker.Commit(ctx, &plan.Current, next); err != nil {
			return nil, err
		}
		log.Printf("[warn] Sync: page %d skipped after %d attempts", plan.Page, plan.Current.Attempts)
		result.Outcome = "skipped"
		result.Progress = next
		return result, nil
	}

	if err := o.tracker.Commit(ctx, &plan.Current, plan.Begin); err != nil {
		return nil, err
	}
	result.Progress = plan.Begin

	run := o.startRun(ctx, models.RunModeCheckpointed)
	stats, syncErr := o.SyncPage(ctx, plan.Page)
	result.Stats = stats
	o.finishRun(ctx, run, &stats, syncErr)

	outcome := services.OutcomeSynced
	switch {
	case syncErr != nil:
		outcome = services.OutcomeFailed
		result.Outcome = "failed"
	case stats.ListingsSeen == 0:
		outcome = services.OutcomeEmpty
		result.Outcome = "empty"
	default:
		result.Outcome = "synced"
	}

	if ctx.Err() != nil {
		// interrupted mid-page: the InProgress record stays, like a crash
		return result, syncErr
	}

	if next := plan.Finish(outcome, o.now()); next != nil {
		if err := o.tracker.Commit(ctx, plan.Begin, next); err != nil {
			return result, err
		}
		result.Progress = next
	}

	if syncErr != nil {
		return result, syncErr
	}
	return result, nil
}

func (o *Orchestrator) startRun(ctx context.Context, mode models.RunMode) *models.SyncRun {
	run := &models.SyncRun{
		ID:        uuid.New(),
		Mode:      mode,
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	if o.runs == nil {
		return run
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to record run: %v", err)
	}
	return run
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.SyncRun, stats *models.SyncStats, runErr error) {
	now := o.now()
	run.FinishedAt = &now
	stats.Apply(run)
	run.Status = models.RunStatusCompleted
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if o.runs == nil {
		return
	}
	// the run record is written even when ctx was cancelled
	if err := o.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("Warning: failed to finish run %s: %v", run.ID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
