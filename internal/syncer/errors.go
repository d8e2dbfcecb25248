package syncer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while another is in progress.
	ErrAlreadyRunning = errors.New("a sync is already running")
	// ErrNoConfig is returned when no sync configuration has been saved yet.
	ErrNoConfig = errors.New("no sync configuration found")
	// ErrNoContacts fails a run whose CRM fetch returned nothing.
	ErrNoContacts = errors.New("no contacts found in GHL")
	// ErrFieldNotFound is the sentinel behind FieldNotFoundError.
	ErrFieldNotFound = errors.New("LTV custom field not found")
)

// FieldNotFoundError lists the field keys that were available when the
// configured LTV field could not be resolved.
type FieldNotFoundError struct {
	Key       string
	Available []string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("LTV custom field '%s' not found in GHL location. Available fields: [%s]",
		e.Key, strings.Join(e.Available, ", "))
}

func (e *FieldNotFoundError) Unwrap() error { return ErrFieldNotFound }
