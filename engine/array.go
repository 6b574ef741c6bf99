package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// OpenMode selects whether an array handle reads or writes.
type OpenMode uint8

const (
	ModeRead OpenMode = iota + 1
	ModeWrite
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Create initializes a new array at the URI. It fails with ErrArrayExists
// when a schema is already present.
func Create(ctx context.Context, ec *Context, uri string, schema *Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	fs, arrayPath, err := ec.resolve(uri)
	if err != nil {
		return err
	}

	if f, err := fs.Open(ctx, schemaPath(arrayPath)); err == nil {
		f.Close()
		return fmt.Errorf("%w: %s", ErrArrayExists, uri)
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	return fs.Put(ctx, schemaPath(arrayPath), data)
}

// Array is an open handle onto a stored array at a fixed timestamp
// interval. Reads only observe cells whose write timestamp falls inside
// the interval; writes stamp cells with the interval end.
type Array struct {
	ec        *Context
	fs        vfs.FileSystem
	uri       string
	arrayPath string
	mode      OpenMode
	schema    *Schema

	mu          sync.Mutex
	interval    TimestampRange
	fragments   []FragmentInfo
	pendingMeta []MetadataRecord
	queries     map[*Query]struct{}
	closed      bool
}

// OpenArray opens the array at uri with the given mode and timestamp
// interval. The fragment listing is pinned at open; later commits by other
// writers become visible only after Reopen.
func OpenArray(ctx context.Context, ec *Context, uri string, mode OpenMode, interval TimestampRange) (*Array, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("engine: invalid open mode %d", uint8(mode))
	}
	if interval.Start > interval.End {
		return nil, fmt.Errorf("engine: timestamp interval start %d after end %d", interval.Start, interval.End)
	}

	fs, arrayPath, err := ec.resolve(uri)
	if err != nil {
		return nil, err
	}

	data, err := vfs.ReadAll(ctx, fs, schemaPath(arrayPath))
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return nil, fmt.Errorf("%w: array %s", ErrNotFound, uri)
		}
		return nil, err
	}
	schema := &Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrCorrupt, err)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	a := &Array{
		ec:        ec,
		fs:        fs,
		uri:       uri,
		arrayPath: arrayPath,
		mode:      mode,
		schema:    schema,
		interval:  interval,
		queries:   make(map[*Query]struct{}),
	}
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array) reload(ctx context.Context) error {
	fragments, err := listFragments(ctx, a.fs, a.arrayPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.fragments = fragments
	a.mu.Unlock()
	return nil
}

// URI returns the array URI the handle was opened with.
func (a *Array) URI() string { return a.uri }

// Mode returns the open mode.
func (a *Array) Mode() OpenMode { return a.mode }

// Schema returns the array schema.
func (a *Array) Schema() *Schema { return a.schema }

// Interval returns the open timestamp interval.
func (a *Array) Interval() TimestampRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// WriteTimestamp returns the timestamp stamped onto written cells, the
// interval end.
func (a *Array) WriteTimestamp() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval.End
}

// Fragments returns the committed fragments visible in the open interval.
func (a *Array) Fragments() []FragmentInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	var visible []FragmentInfo
	for _, f := range a.fragments {
		if f.Timestamps.Overlaps(a.interval) {
			visible = append(visible, f)
		}
	}
	return visible
}

// NonEmptyDomain returns the union of the visible fragments' coordinate
// extents per dimension. ok is false when the array holds no visible cells.
func (a *Array) NonEmptyDomain() (domain []CoordRange, ok bool) {
	for _, f := range a.Fragments() {
		if domain == nil {
			domain = append(domain, f.Domain...)
			continue
		}
		for i, r := range f.Domain {
			if r.Min < domain[i].Min {
				domain[i].Min = r.Min
			}
			if r.Max > domain[i].Max {
				domain[i].Max = r.Max
			}
		}
	}
	return domain, domain != nil
}

// Reopen moves the handle to a new timestamp interval and refreshes the
// fragment listing. The mode is kept.
func (a *Array) Reopen(ctx context.Context, interval TimestampRange) error {
	if interval.Start > interval.End {
		return fmt.Errorf("engine: timestamp interval start %d after end %d", interval.Start, interval.End)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.interval = interval
	a.mu.Unlock()

	return a.reload(ctx)
}

// Close releases the handle. In write mode, pending metadata is flushed
// first. Close is idempotent; resources are released even when the flush
// fails.
func (a *Array) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	pending := a.pendingMeta
	a.pendingMeta = nil
	queries := make([]*Query, 0, len(a.queries))
	for q := range a.queries {
		queries = append(queries, q)
	}
	a.queries = make(map[*Query]struct{})
	a.mu.Unlock()

	for _, q := range queries {
		q.Close()
	}

	if a.mode == ModeWrite && len(pending) > 0 {
		if err := a.flushMetadata(ctx, pending); err != nil {
			return fmt.Errorf("flush metadata: %w", err)
		}
	}
	return nil
}

func (a *Array) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Array) registerQuery(q *Query) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries[q] = struct{}{}
}

func (a *Array) unregisterQuery(q *Query) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.queries, q)
}

// noteFragment makes a fragment committed through this handle visible to
// subsequent operations on the same handle without a relisting.
func (a *Array) noteFragment(info *FragmentInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments = append(a.fragments, *info)
}
