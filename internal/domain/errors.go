package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// AlreadyExistsError is returned when a create collides with an existing key.
type AlreadyExistsError struct {
	Resource string
	ID       string
}

func (e AlreadyExistsError) Error() string {
	if e.Resource == "" {
		return "already exists"
	}
	if e.ID == "" {
		return fmt.Sprintf("%s already exists", e.Resource)
	}
	return fmt.Sprintf("%s %s already exists", e.Resource, e.ID)
}

func (e AlreadyExistsError) Is(target error) bool {
	_, ok := target.(AlreadyExistsError)
	if ok {
		return true
	}
	_, ok = target.(*AlreadyExistsError)
	return ok
}

var ErrAlreadyExists = AlreadyExistsError{}

// FetchError wraps a failed feed fetch. It is transient; the next scheduled poll retries.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	_, ok := target.(*FetchError)
	return ok
}

// ErrFetch matches any *FetchError with errors.Is.
var ErrFetch = &FetchError{}

// PartialFailureError reports a two-step operation whose first step was persisted
// and whose second step failed.
type PartialFailureError struct {
	Operation string
	Completed string
	Failed    string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially failed: %s succeeded, %s failed: %v", e.Operation, e.Completed, e.Failed, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func (e *PartialFailureError) Is(target error) bool {
	_, ok := target.(*PartialFailureError)
	return ok
}

var ErrPartialFailure = &PartialFailureError{}

// ErrPurgeDisabled is returned when hard deletion is requested but not allowed by configuration.
var ErrPurgeDisabled = fmt.Errorf("purge is disabled")

// ErrInvalidArgument marks caller input errors.
var ErrInvalidArgument = fmt.Errorf("invalid argument")
