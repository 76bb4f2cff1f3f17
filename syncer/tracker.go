package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalog_sync/models"
	"catalog_sync/storage"
)

var (
	// ErrProgressConflict means the day's record changed between read and
	// write; another step got there first.
	ErrProgressConflict = errors.New("sync progress changed concurrently")
	ErrInvalidProgress  = errors.New("invalid sync progress")
)

// Tracker persists the per-day checkpoint record.
type Tracker struct {
	store storage.ProgressStore
}

func NewTracker(store storage.ProgressStore) *Tracker {
	return &Tracker{store: store}
}

// Load returns the record for now's day, creating the Completed/page 1
// record when the day has none. created reports whether this call made it.
func (t *Tracker) Load(ctx context.Context, now time.Time) (rec *models.SyncProgress, created bool, err error) {
	day := models.DayKey(now)

	rec, err = t.store.GetProgress(ctx, day)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, false, nil
	}

	fresh := &models.SyncProgress{
		Day:       day,
		Page:      1,
		Attempts:  0,
		Status:    models.ProgressCompleted,
		UpdatedAt: now,
	}
	created, err = t.store.CreateProgress(ctx, fresh)
	if err != nil {
		return nil, false, err
	}
	if created {
		return fresh, true, nil
	}

	// lost the insert race; use whatever the winner wrote
	rec, err = t.store.GetProgress(ctx, day)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("progress %s vanished after insert", day)
	}
	return rec, false, nil
}

// Commit moves the record from prev to next, failing with
// ErrProgressConflict if prev is no longer what is stored.
func (t *Tracker) Commit(ctx context.Context, prev, next *models.SyncProgress) error {
	ok, err := t.store.SwapProgress(ctx, prev, next)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s page %d: %w", prev.Day, prev.Page, ErrProgressConflict)
	}
	return nil
}

// Current returns today's record, or nil if no step ran today.
func (t *Tracker) Current(ctx context.Context, now time.Time) (*models.SyncProgress, error) {
	return t.store.GetProgress(ctx, models.DayKey(now))
}

// Set overwrites today's record. It is the manual override and ignores
// whatever was stored before.
func (t *Tracker) Set(ctx context.Context, now time.Time, page, attempts int, status models.ProgressStatus) (*models.SyncProgress, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d: %w", page, ErrInvalidProgress)
	}
	if attempts < 0 {
		return nil, fmt.Errorf("attempts must be >= 0, got %d: %w", attempts, ErrInvalidProgress)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrInvalidProgress)
	}

	rec := &models.SyncProgress{
		Day:       models.DayKey(now),
		Page:      page,
		Attempts:  attempts,
		Status:    status,
		UpdatedAt: now,
	}
	if err := t.store.SaveProgress(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
