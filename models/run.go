package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type RunMode string

const (
	RunModeFlat         RunMode = "flat"
	RunModeCheckpointed RunMode = "checkpointed"
	RunModeSingle       RunMode = "single"
)

// SyncRun journals one invocation of the batch driver.
type SyncRun struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Mode           RunMode    `json:"mode" db:"mode"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	PagesFetched   int        `json:"pages_fetched" db:"pages_fetched"`
	ListingsSynced int        `json:"listings_synced" db:"listings_synced"`
	ListingsNew    int        `json:"listings_new" db:"listings_new"`
	PhotosSaved    int        `json:"photos_saved" db:"photos_saved"`
	ErrorsCount    int        `json:"errors_count" db:"errors_count"`
	ErrorMessage   string     `json:"error_message" db:"error_message"`
}

// SyncStats accumulates counters while pages are processed.
type SyncStats struct {
	PagesFetched   int `json:"pages_fetched"`
	ListingsSeen   int `json:"listings_seen"`
	ListingsSynced int `json:"listings_synced"`
	ListingsNew    int `json:"listings_new"`
	PhotosSaved    int `json:"photos_saved"`
	PhotosFailed   int `json:"photos_failed"`
	Errors         int `json:"errors"`
}

// Add merges o into s.
func (s *SyncStats) Add(o SyncStats) {
	s.PagesFetched += o.PagesFetched
	s.ListingsSeen += o.ListingsSeen
	s.ListingsSynced += o.ListingsSynced
	s.ListingsNew += o.ListingsNew
	s.PhotosSaved += o.PhotosSaved
	s.PhotosFailed += o.PhotosFailed
	s.Errors += o.Errors
}

// Apply copies the counters onto the run record.
func (s SyncStats) Apply(run *SyncRun) {
	run.PagesFetched = s.PagesFetched
	run.ListingsSynced = s.ListingsSynced
	run.ListingsNew = s.ListingsNew
	run.PhotosSaved = s.PhotosSaved
	run.ErrorsCount = s.Errors
}
