package services

import (
	"time"

	"catalog_sync/models"
)

// RetryLimits bound how often one page is retried. Past Soft the page is
// synced and passed regardless of the outcome; past Hard it is skipped
// without syncing.
type RetryLimits struct {
	Soft int
	Hard int
}

var DefaultRetryLimits = RetryLimits{Soft: 5, Hard: 10}

type StepAction string

const (
	ActionAdvance StepAction = "advance" // Completed or Retrying: sync the current page
	ActionRetry   StepAction = "retry"   // InProgress under the soft limit
	ActionForce   StepAction = "force"   // InProgress over the soft limit
	ActionSkip    StepAction = "skip"    // over the hard limit
)

// PageOutcome is what happened when the planned page was synced.
type PageOutcome int

const (
	OutcomeSynced PageOutcome = iota
	OutcomeEmpty
	OutcomeFailed
)

// StepPlan is the decision for one checkpointed step.
type StepPlan struct {
	Action    StepAction
	Bootstrap bool                 // no record existed for the day
	Current   models.SyncProgress  // the record the decision was made on
	Page      int                  // page to sync, or the page skipped
	Begin     *models.SyncProgress // persisted before syncing; nil for skip
}

// ShouldSync reports whether the plan runs a page through the sync.
func (p StepPlan) ShouldSync() bool {
	return p.Action != ActionSkip
}

// PlanStep picks the transition for rec. Rules are checked in order and the
// first match wins:
//
//  1. attempts > hard, any status: skip the page
//  2. InProgress and attempts > soft: force the page through
//  3. Completed or Retrying: advance
//  4. InProgress: retry the same page
//
// A nil rec is a fresh day: Completed at page 1 with no attempts.
func PlanStep(rec *models.SyncProgress, now time.Time, limits RetryLimits) StepPlan {
	plan := StepPlan{}
	if rec == nil {
		plan.Bootstrap = true
		plan.Current = models.SyncProgress{
			Day:       models.DayKey(now),
			Page:      1,
			Attempts:  0,
			Status:    models.ProgressCompleted,
			UpdatedAt: now,
		}
	} else {
		plan.Current = *rec
	}
	cur := plan.Current
	plan.Page = cur.Page

	begin := &models.SyncProgress{
		Day:       cur.Day,
		Page:      cur.Page,
		Attempts:  cur.Attempts + 1,
		Status:    models.ProgressInProgress,
		UpdatedAt: now,
	}

	switch {
	case cur.Attempts > limits.Hard:
		plan.Action = ActionSkip
	case cur.Status == models.ProgressInProgress && cur.Attempts > limits.Soft:
		plan.Action = ActionForce
		plan.Begin = begin
	case cur.Status == models.ProgressInProgress:
		plan.Action = ActionRetry
		plan.Begin = begin
	default:
		// Completed, Retrying and anything unrecognised
		plan.Action = ActionAdvance
		plan.Begin = begin
	}
	return plan
}

// Finish returns the record to persist once the step is over, or nil when
// the Begin record should stay as it is so the next step retries.
func (p StepPlan) Finish(outcome PageOutcome, now time.Time) *models.SyncProgress {
	cur := p.Current
	next := &models.SyncProgress{Day: cur.Day, UpdatedAt: now}

	if p.Action == ActionSkip {
		next.Page = cur.Page + 1
		next.Attempts = 0
		next.Status = models.ProgressRetrying
		return next
	}

	switch outcome {
	case OutcomeEmpty:
		// nothing left today; hold on this page
		next.Page = cur.Page
		next.Attempts = 0
		next.Status = models.ProgressCompleted
		return next
	case OutcomeFailed:
		if p.Action != ActionForce {
			return nil
		}
	}

	next.Page = cur.Page + 1
	next.Attempts = 0
	next.Status = models.ProgressCompleted
	return next
}
