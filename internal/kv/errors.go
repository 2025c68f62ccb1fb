package kv

import (
	"errors"
	"fmt"

	"github.com/roach88/ledgerkv/internal/envelope"
)

// ErrEmptyKey is returned by Add when the key is empty after normalisation.
var ErrEmptyKey = errors.New("key must not be empty")

// NotFoundError is returned by Get when no record for the key exists in the
// scanned range. It is a normal outcome, not a failure.
type NotFoundError struct {
	Key     string
	AppName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %q not found in %s", e.Key, e.AppName)
}

// IsNotFound returns true if err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DegradedWriteError is returned by Add when the record was committed but the
// metadata publish that follows it failed. Record is durable and visible to
// reads; only the advisory metadata is stale.
type DegradedWriteError struct {
	Record envelope.Record
	Err    error
}

func (e *DegradedWriteError) Error() string {
	return fmt.Sprintf("record %q committed at height %d but metadata publish failed: %v",
		e.Record.Key, e.Record.Pos.Height, e.Err)
}

func (e *DegradedWriteError) Unwrap() error { return e.Err }

// IsDegradedWrite returns true if err is or wraps a *DegradedWriteError.
func IsDegradedWrite(err error) bool {
	var de *DegradedWriteError
	return errors.As(err, &de)
}
