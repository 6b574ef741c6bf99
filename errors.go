package soma

import (
	"errors"
	"fmt"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

var (
	// ErrNotFound is returned when an array or metadata key is not found.
	ErrNotFound = errors.New("not found")

	// ErrNotOpen is returned when operating on a closed array handle.
	ErrNotOpen = errors.New("array is not open")
)

// OpenError indicates that an array could not be opened.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type OpenError struct {
	URI   string
	cause error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.URI, e.cause)
}

func (e *OpenError) Unwrap() error { return e.cause }

// TimeRangeError indicates an inverted timestamp interval.
type TimeRangeError struct {
	Start uint64
	End   uint64
}

func (e *TimeRangeError) Error() string {
	return fmt.Sprintf("timestamp range start %d after end %d", e.Start, e.End)
}

// QueryError indicates that a read or write operation failed.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type QueryError struct {
	Op    string
	cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query: %v", e.Op, e.cause)
}

func (e *QueryError) Unwrap() error { return e.cause }

// MetadataKeyError indicates a metadata key that is absent or not visible
// at the open timestamp.
type MetadataKeyError struct {
	Key string
}

func (e *MetadataKeyError) Error() string {
	return fmt.Sprintf("metadata key %q not found", e.Key)
}

func (e *MetadataKeyError) Unwrap() error { return ErrNotFound }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrNotOpen, err)
	}

	return err
}
