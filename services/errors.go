package services

import "fmt"

// PersistenceError wraps a store failure while syncing one listing. The
// batch driver logs it and moves on to the next listing.
type PersistenceError struct {
	Op        string
	ListingID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for listing %s: %v", e.Op, e.ListingID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DownloadError is a failed photo fetch or write. It never aborts a listing.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
