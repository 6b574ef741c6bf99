package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
)

// QueryStatus reports the progress of an incremental read.
type QueryStatus uint8

const (
	StatusUninitialized QueryStatus = iota
	StatusIncomplete
	StatusComplete
)

func (s QueryStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusIncomplete:
		return "incomplete"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Layout selects the cell order of read results.
type Layout uint8

const (
	// LayoutRowMajor orders cells by coordinates, first dimension slowest.
	LayoutRowMajor Layout = iota
	// LayoutColMajor orders cells by coordinates, last dimension slowest.
	LayoutColMajor
	// LayoutUnordered lets the engine pick; it currently emits row-major.
	LayoutUnordered
)

// fragmentLoadParallelism bounds concurrent fragment fetches per query.
const fragmentLoadParallelism = 8

// BufferSize describes the fill level of one result buffer after a Submit.
type BufferSize struct {
	Cells uint64
	Bytes uint64
}

// Query runs one read or write against an open array, matching the mode
// the array was opened with.
//
// Reads are incremental: each Submit fills the query's result buffers with
// the next slice of cells and reports StatusIncomplete until the result is
// drained. Writes create one committed fragment per Submit.
type Query struct {
	array *Array

	mu     sync.Mutex
	closed bool
	status QueryStatus

	// read configuration and state
	columns      []string
	batchCells   int
	layout       Layout
	materialized bool
	result       map[string]*ColumnBuffer
	resultCells  int
	cursor       int
	out          map[string]*ColumnBuffer
	elements     map[string]BufferSize
	reserved     int64

	// write state
	writeBufs map[string]*ColumnBuffer
}

// NewQuery creates a query on the array. The caller must Close it; closing
// the array closes its remaining queries.
func (a *Array) NewQuery() *Query {
	q := &Query{
		array:    a,
		status:   StatusUninitialized,
		elements: make(map[string]BufferSize),
	}
	a.registerQuery(q)
	return q
}

// SetColumns restricts a read to the named columns. Dimensions not listed
// are still consulted for deduplication but do not appear in results.
func (q *Query) SetColumns(names ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.materialized {
		return fmt.Errorf("engine: column selection after first submit")
	}
	for _, name := range names {
		if _, ok := q.array.schema.ColumnType(name); !ok {
			return fmt.Errorf("engine: unknown column %q", name)
		}
	}
	q.columns = append([]string(nil), names...)
	return nil
}

// SetBatchCells caps the number of cells returned per Submit. Zero means
// the whole result in one round.
func (q *Query) SetBatchCells(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batchCells = n
}

// SetLayout sets the result cell order.
func (q *Query) SetLayout(l Layout) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.layout = l
}

// SetDataBuffer stages a column buffer for a write.
func (q *Query) SetDataBuffer(name string, buf *ColumnBuffer) error {
	if q.array.Mode() != ModeWrite {
		return ErrReadOnly
	}
	want, ok := q.array.schema.ColumnType(name)
	if !ok {
		return fmt.Errorf("engine: unknown column %q", name)
	}
	if buf.Type() != want {
		return fmt.Errorf("engine: column %q has type %s, schema wants %s", name, buf.Type(), want)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.writeBufs == nil {
		q.writeBufs = make(map[string]*ColumnBuffer)
	}
	q.writeBufs[name] = buf
	return nil
}

// Status returns the query status after the last Submit.
func (q *Query) Status() QueryStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Buffers returns the result buffers filled by the last Submit.
func (q *Query) Buffers() map[string]*ColumnBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.out
}

// ResultBufferElements reports, per column, how many cells and bytes the
// last Submit produced.
func (q *Query) ResultBufferElements() map[string]BufferSize {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]BufferSize, len(q.elements))
	for k, v := range q.elements {
		out[k] = v
	}
	return out
}

// Submit runs the next step of the query: for writes it commits a fragment
// from the staged buffers, for reads it fills the result buffers with the
// next batch of cells.
func (q *Query) Submit(ctx context.Context) (QueryStatus, error) {
	if q.array.isClosed() {
		return StatusUninitialized, ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return StatusUninitialized, ErrClosed
	}

	if q.array.Mode() == ModeWrite {
		return q.submitWrite(ctx)
	}
	return q.submitRead(ctx)
}

// Close releases the query's result memory. Idempotent.
func (q *Query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	reserved := q.reserved
	q.reserved = 0
	q.result = nil
	q.out = nil
	q.mu.Unlock()

	q.array.ec.Resources().ReleaseMemory(reserved)
	q.array.unregisterQuery(q)
}

func (q *Query) submitWrite(ctx context.Context) (QueryStatus, error) {
	schema := q.array.schema
	if len(q.writeBufs) == 0 {
		return q.status, fmt.Errorf("engine: no buffers staged for write")
	}

	var cells = -1
	for _, name := range schema.Columns() {
		buf, ok := q.writeBufs[name]
		if !ok {
			return q.status, fmt.Errorf("engine: column %q missing from write", name)
		}
		if cells == -1 {
			cells = buf.Len()
		} else if buf.Len() != cells {
			return q.status, fmt.Errorf("engine: column %q has %d cells, expected %d", name, buf.Len(), cells)
		}
	}
	if cells == 0 {
		return q.status, fmt.Errorf("engine: write with zero cells")
	}

	// Coordinates must fall inside the schema domain.
	dims := make([][]int64, len(schema.Dimensions))
	for i, d := range schema.Dimensions {
		coords := q.writeBufs[d.Name].Int64s()
		for _, c := range coords {
			if c < d.Domain[0] || c > d.Domain[1] {
				return q.status, fmt.Errorf("engine: coordinate %d outside domain [%d, %d] of %q", c, d.Domain[0], d.Domain[1], d.Name)
			}
		}
		dims[i] = coords
	}

	// Store cells in row-major coordinate order.
	perm := make([]int, cells)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return compareCoords(dims, perm[a], perm[b]) < 0
	})

	if !schema.AllowDuplicates {
		for i := 1; i < cells; i++ {
			if compareCoords(dims, perm[i-1], perm[i]) == 0 {
				return q.status, fmt.Errorf("%w: in write batch", ErrDuplicate)
			}
		}
	}

	cols := make(map[string]*ColumnBuffer, len(q.writeBufs))
	for name, buf := range q.writeBufs {
		cols[name] = buf.Gather(perm)
	}

	ts := q.array.WriteTimestamp()
	tsCol := NewColumnBuffer(TypeUint64)
	for i := 0; i < cells; i++ {
		tsCol.AppendUint64(ts)
	}

	info, err := writeFragment(ctx, q.array.fs, q.array.arrayPath, schema, cols, tsCol, nil)
	if err != nil {
		return q.status, err
	}
	q.array.noteFragment(info)

	q.status = StatusComplete
	return q.status, nil
}

func (q *Query) submitRead(ctx context.Context) (QueryStatus, error) {
	if !q.materialized {
		if err := q.materialize(ctx); err != nil {
			return q.status, err
		}
	}

	take := q.resultCells - q.cursor
	if q.batchCells > 0 && take > q.batchCells {
		take = q.batchCells
	}

	q.out = make(map[string]*ColumnBuffer, len(q.result))
	q.elements = make(map[string]BufferSize, len(q.result))
	for name, buf := range q.result {
		round := NewColumnBuffer(buf.Type())
		for i := q.cursor; i < q.cursor+take; i++ {
			round.appendCell(buf, i)
		}
		q.out[name] = round
		q.elements[name] = BufferSize{Cells: uint64(take), Bytes: uint64(round.MemSize())}
	}
	q.cursor += take

	if q.cursor < q.resultCells {
		q.status = StatusIncomplete
	} else {
		q.status = StatusComplete
	}
	return q.status, nil
}

// cellRef locates one visible cell in the loaded fragment set.
type cellRef struct {
	frag int
	row  int
	ts   uint64
}

func (q *Query) materialize(ctx context.Context) error {
	if q.array.Mode() != ModeRead {
		return ErrWriteOnly
	}
	schema := q.array.schema
	interval := q.array.Interval()
	fragments := q.array.Fragments()

	requested := q.columns
	if requested == nil {
		requested = schema.Columns()
	}

	// Dimensions are always loaded: deduplication and ordering need them.
	loadSet := make(map[string]struct{}, len(requested)+len(schema.Dimensions)+1)
	loadCols := make([]string, 0, len(requested)+len(schema.Dimensions)+1)
	for _, d := range schema.Dimensions {
		loadSet[d.Name] = struct{}{}
		loadCols = append(loadCols, d.Name)
	}
	for _, name := range requested {
		if _, ok := loadSet[name]; !ok {
			loadSet[name] = struct{}{}
			loadCols = append(loadCols, name)
		}
	}
	loadCols = append(loadCols, tsColumn)

	loaded := make([]map[string]*ColumnBuffer, len(fragments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fragmentLoadParallelism)
	for i, f := range fragments {
		g.Go(func() error {
			cols, err := readFragmentColumns(gctx, q.array.fs, q.array.arrayPath, f.ID, loadCols)
			if err != nil {
				return err
			}
			loaded[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Collect cells whose write timestamp falls inside the open interval.
	// Fragments straddling the interval contribute only matching cells.
	var refs []cellRef
	dims := make([][][]int64, len(fragments))
	for i := range fragments {
		tsValues := loaded[i][tsColumn].Uint64s()
		for row, ts := range tsValues {
			if interval.Contains(ts) {
				refs = append(refs, cellRef{frag: i, row: row, ts: ts})
			}
		}
		fragDims := make([][]int64, len(schema.Dimensions))
		for d, dim := range schema.Dimensions {
			fragDims[d] = loaded[i][dim.Name].Int64s()
		}
		dims[i] = fragDims
	}

	if !schema.AllowDuplicates {
		refs = dedupCells(refs, fragments, dims)
	}

	sortCells(refs, fragments, dims, q.layout)

	result := make(map[string]*ColumnBuffer, len(requested))
	var total int64
	for _, name := range requested {
		typ, _ := schema.ColumnType(name)
		buf := NewColumnBuffer(typ)
		for _, ref := range refs {
			buf.appendCell(loaded[ref.frag][name], ref.row)
		}
		result[name] = buf
		total += buf.MemSize()
	}

	// The budget bounds concurrently held result sets; a query blocks here
	// until earlier queries release theirs.
	if err := q.array.ec.Resources().AcquireMemory(ctx, total); err != nil {
		return err
	}
	q.reserved = total

	q.result = result
	q.resultCells = len(refs)
	q.cursor = 0
	q.materialized = true
	return nil
}

// dedupCells keeps, per coordinate, the cell with the highest write
// timestamp. Ties go to the fragment committed last, then the highest row.
func dedupCells(refs []cellRef, fragments []FragmentInfo, dims [][][]int64) []cellRef {
	sort.Slice(refs, func(a, b int) bool {
		ra, rb := refs[a], refs[b]
		if ra.ts != rb.ts {
			return ra.ts > rb.ts
		}
		fa, fb := fragments[ra.frag], fragments[rb.frag]
		if fa.CreatedAt != fb.CreatedAt {
			return fa.CreatedAt > fb.CreatedAt
		}
		if fa.ID != fb.ID {
			return fa.ID > fb.ID
		}
		return ra.row > rb.row
	})

	winners := refs[:0]
	if len(dims) > 0 && len(dims[0]) == 1 {
		// Single int64 dimension: a bitmap makes the seen set compact even
		// for large coordinate spaces.
		seen := roaring64.New()
		for _, ref := range refs {
			coord := uint64(dims[ref.frag][0][ref.row])
			if seen.Contains(coord) {
				continue
			}
			seen.Add(coord)
			winners = append(winners, ref)
		}
		return winners
	}

	seen := make(map[string]struct{}, len(refs))
	key := make([]byte, 0, 64)
	for _, ref := range refs {
		key = key[:0]
		for _, coords := range dims[ref.frag] {
			key = binary.LittleEndian.AppendUint64(key, uint64(coords[ref.row]))
		}
		if _, dup := seen[string(key)]; dup {
			continue
		}
		seen[string(key)] = struct{}{}
		winners = append(winners, ref)
	}
	return winners
}

// sortCells orders result cells by coordinates according to the layout.
// Duplicate coordinates (when allowed) are ordered by write timestamp and
// commit time, oldest first.
func sortCells(refs []cellRef, fragments []FragmentInfo, dims [][][]int64, layout Layout) {
	ndims := 0
	if len(dims) > 0 {
		ndims = len(dims[0])
	}

	dimOrder := make([]int, ndims)
	for i := range dimOrder {
		if layout == LayoutColMajor {
			dimOrder[i] = ndims - 1 - i
		} else {
			dimOrder[i] = i
		}
	}

	sort.Slice(refs, func(a, b int) bool {
		ra, rb := refs[a], refs[b]
		for _, d := range dimOrder {
			ca, cb := dims[ra.frag][d][ra.row], dims[rb.frag][d][rb.row]
			if ca != cb {
				return ca < cb
			}
		}
		if ra.ts != rb.ts {
			return ra.ts < rb.ts
		}
		fa, fb := fragments[ra.frag], fragments[rb.frag]
		if fa.CreatedAt != fb.CreatedAt {
			return fa.CreatedAt < fb.CreatedAt
		}
		if fa.ID != fb.ID {
			return fa.ID < fb.ID
		}
		return ra.row < rb.row
	})
}

func compareCoords(dims [][]int64, a, b int) int {
	for _, coords := range dims {
		if coords[a] != coords[b] {
			if coords[a] < coords[b] {
				return -1
			}
			return 1
		}
	}
	return 0
}
