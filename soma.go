package soma

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

// Array is an open session onto a stored array at a fixed timestamp
// interval. It layers batched arrow reads, a non-zero cell counter and a
// key-value metadata store over an engine array handle.
//
// A session reads or writes depending on the mode it was opened with.
// Reads only observe cells whose write timestamp falls inside the
// interval; writes stamp cells and metadata with the interval end.
//
// An Array is safe for concurrent use, but the batch reader is a single
// cursor: Submit and ReadNext calls interleaved from multiple goroutines
// read from the same stream.
type Array struct {
	ectx    *engine.Context
	uri     string
	logger  *Logger
	metrics MetricsCollector
	alloc   memory.Allocator

	columns   []string
	batchSize int
	order     ResultOrder

	mu       sync.Mutex
	eng      *engine.Array // nil once closed
	mode     Mode
	schema   *engine.Schema
	tsStart  uint64
	tsEnd    uint64
	query    *engine.Query
	state    readState
	readCols []string
	pending  *ResultBatch
	lastDone bool
	meta     map[string]MetadataValue
	metaKeys []string
}

// readState tracks the batch reader cursor between Submit and ReadNext.
type readState uint8

const (
	readIdle readState = iota
	readActive
	readDone
)

// Create initializes a new array at the URI with the given schema.
func Create(ctx context.Context, ectx *engine.Context, uri string, schema *engine.Schema) error {
	return translateError(engine.Create(ctx, ectx, uri, schema))
}

// Open opens the array at uri. The default is a read session over the
// interval [0, now] with millisecond timestamps; use WithMode and
// WithTimestampRange to change that.
//
// Open fails with *OpenError when the array does not exist or its schema
// is invalid, and with *TimeRangeError when the interval is inverted. No
// partial state remains after a failed open.
func Open(ctx context.Context, ectx *engine.Context, uri string, optFns ...Option) (*Array, error) {
	start := time.Now()
	opts := applyOptions(optFns)
	if !opts.tsSet {
		opts.tsStart, opts.tsEnd = 0, uint64(time.Now().UnixMilli())
	}
	logger := opts.logger
	if opts.queryName != "" {
		logger = logger.WithQueryName(opts.queryName)
	}

	a, err := open(ctx, ectx, uri, opts, logger)
	opts.metrics.RecordOpen(time.Since(start), err)
	logger.LogOpen(ctx, uri, opts.mode, opts.tsStart, opts.tsEnd, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func open(ctx context.Context, ectx *engine.Context, uri string, opts options, logger *Logger) (*Array, error) {
	if opts.tsEnd < opts.tsStart {
		return nil, &TimeRangeError{Start: opts.tsStart, End: opts.tsEnd}
	}

	interval := engine.TimestampRange{Start: opts.tsStart, End: opts.tsEnd}
	eng, err := engine.OpenArray(ctx, ectx, uri, opts.mode, interval)
	if err != nil {
		return nil, &OpenError{URI: uri, cause: translateError(err)}
	}

	a := &Array{
		ectx:      ectx,
		uri:       uri,
		logger:    logger,
		metrics:   opts.metrics,
		alloc:     opts.allocator,
		columns:   opts.columns,
		batchSize: opts.batchSize,
		order:     opts.resultOrder,
		eng:       eng,
		mode:      opts.mode,
		schema:    eng.Schema(),
		tsStart:   opts.tsStart,
		tsEnd:     opts.tsEnd,
	}
	if err := a.loadMetadataLocked(ctx); err != nil {
		eng.Close(ctx)
		return nil, &OpenError{URI: uri, cause: err}
	}
	return a, nil
}

// URI returns the array URI the session was opened with.
func (a *Array) URI() string { return a.uri }

// Mode returns the current open mode.
func (a *Array) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Schema returns the array schema.
func (a *Array) Schema() *engine.Schema {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.schema
}

// TimestampRange returns the inclusive interval the session observes.
func (a *Array) TimestampRange() (start, end uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tsStart, a.tsEnd
}

// Shape returns the domain extent of each dimension in schema order.
func (a *Array) Shape() ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return nil, ErrNotOpen
	}
	shape := make([]int64, len(a.schema.Dimensions))
	for i, d := range a.schema.Dimensions {
		shape[i] = d.Extent()
	}
	return shape, nil
}

// Reopen rebinds the session to a new mode and timestamp interval. Staged
// metadata is flushed first, any in-flight read is dropped, and the
// metadata cache reloads at the new interval.
func (a *Array) Reopen(ctx context.Context, mode Mode, start, end uint64) error {
	t0 := time.Now()
	err := a.reopen(ctx, mode, start, end)
	a.metrics.RecordOpen(time.Since(t0), err)
	a.logger.LogOpen(ctx, a.uri, mode, start, end, err)
	return err
}

func (a *Array) reopen(ctx context.Context, mode Mode, start, end uint64) error {
	if end < start {
		return &TimeRangeError{Start: start, End: end}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return ErrNotOpen
	}

	interval := engine.TimestampRange{Start: start, End: end}
	next, err := engine.OpenArray(ctx, a.ectx, a.uri, mode, interval)
	if err != nil {
		return &OpenError{URI: a.uri, cause: translateError(err)}
	}

	a.resetReadLocked()

	// Closing the old handle flushes metadata staged on it; the reload
	// below then observes the flushed records.
	if err := a.eng.Close(ctx); err != nil {
		a.logger.LogMetadataFlush(ctx, 0, err)
	}
	a.eng = next
	a.mode = mode
	a.tsStart, a.tsEnd = start, end
	return a.loadMetadataLocked(ctx)
}

// Close releases the session. Staged metadata is flushed first; flush and
// release failures are logged, never returned. Close is idempotent.
func (a *Array) Close() error {
	start := time.Now()

	a.mu.Lock()
	eng := a.eng
	a.eng = nil
	a.resetReadLocked()
	a.meta = nil
	a.metaKeys = nil
	a.mu.Unlock()

	if eng == nil {
		return nil
	}

	ctx := context.Background()
	err := eng.Close(ctx)
	a.metrics.RecordClose(time.Since(start), err)
	a.logger.LogClose(ctx, a.uri, err)
	return nil
}

// resetReadLocked drops the active read query. Caller holds a.mu.
func (a *Array) resetReadLocked() {
	if a.query != nil {
		a.query.Close()
		a.query = nil
	}
	if a.pending != nil {
		a.pending.Release()
		a.pending = nil
	}
	a.state = readIdle
	a.lastDone = false
	a.readCols = nil
}

// handle returns the engine handle or ErrNotOpen.
func (a *Array) handle() (*engine.Array, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return nil, ErrNotOpen
	}
	return a.eng, nil
}
