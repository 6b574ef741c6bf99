package vfs

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// FileSystem is an abstraction for the storage backing an array: immutable
// schema, fragment and commit objects addressed by slash-separated names.
//
// Writes are whole-object and atomic: an object is either fully visible under
// its final name or absent. The engine relies on this for its commit protocol
// (fragment data is written before its commit marker).
//
// Implementations must be safe for concurrent use.
type FileSystem interface {
	// Open opens an object for reading.
	Open(ctx context.Context, name string) (File, error)

	// Put atomically writes an object.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all objects with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// File is a read-only handle to a stored object.
type File interface {
	io.ReaderAt
	io.Closer

	// Size returns the size of the object in bytes.
	Size() int64
}

// ReadAll reads the full contents of a named object.
func ReadAll(ctx context.Context, fs FileSystem, name string) ([]byte, error) {
	f, err := fs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, f.Size())
	if len(data) == 0 {
		return data, nil
	}
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}
