package crm

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the CRM has no listing for the requested code.
var ErrNotFound = errors.New("crm: listing not found")

// TransportError is any failed exchange with the CRM: a network error or a
// non-200 response. URL never carries the API key.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crm %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crm %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
