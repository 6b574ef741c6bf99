package soma

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

func TestBatchRoundTrip(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/roundtrip"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 64)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri)
	require.NoError(t, err)
	defer arr.Close()

	gotCoords, gotVals := drainCells(t, arr)
	assert.Equal(t, coords, gotCoords)
	assert.Equal(t, vals, gotVals)

	n, err := arr.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(coords)), n)
}

func TestBatchPagination(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/pagination"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 10)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri, WithBatchSize(4))
	require.NoError(t, err)
	defer arr.Close()

	require.NoError(t, arr.Submit(ctx))

	var sizes []int64
	for {
		batch, err := arr.ReadNext(ctx)
		require.NoError(t, err)
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.NumRows())
		batch.Release()
	}
	assert.Equal(t, []int64{4, 4, 2}, sizes)

	// the stream stays drained until the next Submit
	batch, err := arr.ReadNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestBatchEmptyArray(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/empty"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri)
	require.NoError(t, err)
	defer arr.Close()

	require.NoError(t, arr.Submit(ctx))
	batch, err := arr.ReadNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, batch)

	n, err := arr.NNZ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadNextBeforeSubmit(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/nosubmit"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri)
	require.NoError(t, err)
	defer arr.Close()

	batch, err := arr.ReadNext(ctx)
	assert.Nil(t, batch)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "read", qe.Op)
}

func TestSubmitRestartsRead(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/restart"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 16)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri, WithBatchSize(8))
	require.NoError(t, err)
	defer arr.Close()

	// drain once
	first, _ := drainCells(t, arr)
	require.Equal(t, coords, first)

	// a second Submit restarts from the beginning
	second, _ := drainCells(t, arr)
	assert.Equal(t, coords, second)
}

func TestSubmitOnWriteSession(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/submitwrite"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer arr.Close()

	err = arr.Submit(ctx)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "submit", qe.Op)
	assert.ErrorIs(t, err, engine.ErrWriteOnly)
}

func TestColumnsProjection(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/projection"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 8)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri, WithColumns("d0"))
	require.NoError(t, err)
	defer arr.Close()

	require.NoError(t, arr.Submit(ctx))
	batch, err := arr.ReadNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, batch)
	defer batch.Release()

	assert.Equal(t, []string{"d0"}, batch.Names())
	assert.EqualValues(t, 1, batch.Record().NumCols())
	assert.EqualValues(t, 8, batch.NumRows())
	assert.Nil(t, batch.Column("a0"))
}

func TestColumnsUnknown(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/unknowncol"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithColumns("nope"))
	require.NoError(t, err)
	defer arr.Close()

	err = arr.Submit(ctx)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "submit", qe.Op)
	assert.ErrorContains(t, err, "nope")
}

func create2DArray(t *testing.T, ectx *engine.Context, uri string) {
	t.Helper()
	schema := &engine.Schema{
		Dimensions: []engine.Dimension{
			{Name: "d0", Domain: [2]int64{0, 1 << 20}},
			{Name: "d1", Domain: [2]int64{0, 1 << 20}},
		},
		Attributes:  []engine.Attribute{{Name: "a0", Type: engine.TypeInt32}},
		Compression: engine.CompressionZSTD,
	}
	require.NoError(t, Create(context.Background(), ectx, uri, schema))
}

func write2DAt(t *testing.T, ectx *engine.Context, uri string, ts uint64, d0, d1 []int64, vals []int32) {
	t.Helper()
	ctx := context.Background()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "d0", Type: arrow.PrimitiveTypes.Int64},
		{Name: "d1", Type: arrow.PrimitiveTypes.Int64},
		{Name: "a0", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i := range d0 {
		b.Field(0).(*array.Int64Builder).Append(d0[i])
		b.Field(1).(*array.Int64Builder).Append(d1[i])
		b.Field(2).(*array.Int32Builder).Append(vals[i])
	}
	rec := b.NewRecord()
	defer rec.Release()

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(ts, ts))
	require.NoError(t, err)
	require.NoError(t, arr.Write(ctx, rec))
	require.NoError(t, arr.Close())
}

func drain2D(t *testing.T, arr *Array) (d0s, d1s []int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, arr.Submit(ctx))
	for {
		batch, err := arr.ReadNext(ctx)
		require.NoError(t, err)
		if batch == nil {
			return d0s, d1s
		}
		d0 := batch.Column("d0").(*array.Int64)
		d1 := batch.Column("d1").(*array.Int64)
		for i := 0; i < d0.Len(); i++ {
			d0s = append(d0s, d0.Value(i))
			d1s = append(d1s, d1.Value(i))
		}
		batch.Release()
	}
}

func TestResultOrder(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/order"
	create2DArray(t, ectx, uri)

	write2DAt(t, ectx, uri, 10, []int64{0, 1}, []int64{1, 0}, []int32{1, 2})

	rowMajor, err := Open(ctx, ectx, uri, WithResultOrder(OrderRowMajor))
	require.NoError(t, err)
	defer rowMajor.Close()

	d0s, d1s := drain2D(t, rowMajor)
	assert.Equal(t, []int64{0, 1}, d0s)
	assert.Equal(t, []int64{1, 0}, d1s)

	colMajor, err := Open(ctx, ectx, uri, WithResultOrder(OrderColMajor))
	require.NoError(t, err)
	defer colMajor.Close()

	d0s, d1s = drain2D(t, colMajor)
	assert.Equal(t, []int64{1, 0}, d0s)
	assert.Equal(t, []int64{0, 1}, d1s)
}

func TestPartialDrainCloseReleasesMemory(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/partial"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 64)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri, WithBatchSize(8))
	require.NoError(t, err)

	require.NoError(t, arr.Submit(ctx))
	batch, err := arr.ReadNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, batch)
	batch.Release()

	// abandoning the read mid-stream must not leak budgeted memory
	require.NoError(t, arr.Close())
	assert.Zero(t, ectx.Resources().MemoryUsage())
}

func TestBatchesIterator(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/iterator"
	createTestArray(t, ectx, uri, false)

	coords, vals := seqCells(0, 20)
	writeAt(t, ectx, uri, 10, coords, vals)

	arr, err := Open(ctx, ectx, uri, WithBatchSize(6))
	require.NoError(t, err)
	defer arr.Close()

	var total int64
	var batches int
	for batch, err := range arr.Batches(ctx) {
		require.NoError(t, err)
		total += batch.NumRows()
		batches++
		batch.Release()
	}
	assert.Equal(t, int64(20), total)
	assert.Equal(t, 4, batches)
}

func TestBatchesIteratorError(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/iteratorerr"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer arr.Close()

	var seen int
	for batch, err := range arr.Batches(ctx) {
		seen++
		assert.Nil(t, batch)
		assert.ErrorIs(t, err, engine.ErrWriteOnly)
	}
	assert.Equal(t, 1, seen)
}
