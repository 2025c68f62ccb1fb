package ledger

import (
	"errors"
	"fmt"
)

// FetchError reports a failed per-height fetch.
type FetchError struct {
	Height uint64
	AppID  AppID
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch height %d (app %d): %v", e.Height, e.AppID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubmitError reports a blob submission that did not reach finality.
// Attempts is the number of tries made before giving up.
type SubmitError struct {
	AppID    AppID
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("submit (app %d) failed after %d attempts: %v", e.AppID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("submit (app %d): %v", e.AppID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ResolutionError reports a failed namespace lookup or creation.
// It is never retried inside the core.
type ResolutionError struct {
	AppName string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve app %q: %v", e.AppName, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsFetchError returns true if err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsSubmitError returns true if err is or wraps a *SubmitError.
func IsSubmitError(err error) bool {
	var se *SubmitError
	return errors.As(err, &se)
}

// IsResolutionError returns true if err is or wraps a *ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
