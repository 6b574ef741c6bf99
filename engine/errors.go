package engine

import "errors"

var (
	// ErrNotFound is returned when an array or fragment object is missing.
	//
	// This is an engine-layer sentinel used internally; the soma package may
	// translate it into its public error contract.
	ErrNotFound = errors.New("not found")

	// ErrArrayExists is returned by Create when the URI already holds an array.
	ErrArrayExists = errors.New("array already exists")

	// ErrSchema is returned when a schema fails validation.
	ErrSchema = errors.New("invalid schema")

	// ErrClosed is returned when operating on a closed array or query.
	ErrClosed = errors.New("array is closed")

	// ErrReadOnly is returned when a write is attempted on an array opened
	// for reading.
	ErrReadOnly = errors.New("array not opened for writing")

	// ErrWriteOnly is returned when a read is attempted on an array opened
	// for writing.
	ErrWriteOnly = errors.New("array not opened for reading")

	// ErrCorrupt is returned when stored fragment data fails checksum or
	// structural validation.
	ErrCorrupt = errors.New("fragment data corrupted")

	// ErrDuplicate is returned when a write contains duplicate coordinates
	// and the schema disallows duplicates.
	ErrDuplicate = errors.New("duplicate coordinates")
)
