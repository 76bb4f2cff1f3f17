package models

import "time"

type ProgressStatus string

const (
	ProgressCompleted  ProgressStatus = "Completed"
	ProgressInProgress ProgressStatus = "InProgress"
	ProgressRetrying   ProgressStatus = "Retrying"
)

// Valid reports whether s is one of the known statuses.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressCompleted, ProgressInProgress, ProgressRetrying:
		return true
	}
	return false
}

// SyncProgress is the single checkpoint record for one calendar day.
type SyncProgress struct {
	Day       string         `json:"day" db:"day"` // YYYY-MM-DD
	Page      int            `json:"page" db:"page"`
	Attempts  int            `json:"attempts" db:"attempts"`
	Status    ProgressStatus `json:"status" db:"status"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// DayKey formats t as the progress record key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// SameState compares the fields that take part in a progress transition.
func (p *SyncProgress) SameState(o *SyncProgress) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Day == o.Day && p.Page == o.Page && p.Attempts == o.Attempts && p.Status == o.Status
}
