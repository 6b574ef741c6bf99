package integration_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	soma "github.com/dudoslav/TileDB-SOMA"
	"github.com/dudoslav/TileDB-SOMA/engine"
	"github.com/dudoslav/TileDB-SOMA/vfs"
)

func newFileContext(t *testing.T, dir string) *engine.Context {
	t.Helper()
	ectx, err := engine.NewContext(engine.WithFileSystem("file", vfs.NewLocalFS(dir)))
	require.NoError(t, err)
	return ectx
}

func createArray(t *testing.T, ectx *engine.Context, uri string) {
	t.Helper()
	schema := &engine.Schema{
		Dimensions:  []engine.Dimension{{Name: "d0", Domain: [2]int64{0, 1 << 20}}},
		Attributes:  []engine.Attribute{{Name: "a0", Type: engine.TypeInt32}},
		Compression: engine.CompressionZSTD,
	}
	require.NoError(t, soma.Create(context.Background(), ectx, uri, schema))
}

func writeRecord(t *testing.T, arr *soma.Array, coords []int64, vals []int32) {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema([]arrow.Field{
		{Name: "d0", Type: arrow.PrimitiveTypes.Int64},
		{Name: "a0", Type: arrow.PrimitiveTypes.Int32},
	}, nil))
	defer b.Release()
	for i := range coords {
		b.Field(0).(*array.Int64Builder).Append(coords[i])
		b.Field(1).(*array.Int32Builder).Append(vals[i])
	}
	rec := b.NewRecord()
	defer rec.Release()
	require.NoError(t, arr.Write(context.Background(), rec))
}

func countCells(t *testing.T, ectx *engine.Context, uri string, start, end uint64) uint64 {
	t.Helper()
	ctx := context.Background()

	arr, err := soma.Open(ctx, ectx, uri, soma.WithTimestampRange(start, end))
	require.NoError(t, err)
	defer arr.Close()

	n, err := arr.NNZ(ctx)
	require.NoError(t, err)

	var drained uint64
	for batch, err := range arr.Batches(ctx) {
		require.NoError(t, err)
		drained += uint64(batch.NumRows())
		batch.Release()
	}
	require.Equal(t, n, drained)
	return n
}

func TestE2E_Restart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	uri := "file://exp/x"

	// 1. create, write data and metadata, close
	ectx := newFileContext(t, dir)
	createArray(t, ectx, uri)

	w, err := soma.Open(ctx, ectx, uri,
		soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(10, 10))
	require.NoError(t, err)
	writeRecord(t, w, []int64{0, 1, 2}, []int32{7, 8, 9})
	require.NoError(t, w.SetMetadata("owner", soma.StringValue("integration")))
	require.NoError(t, w.Close())

	// 2. a fresh engine context over the same directory sees everything
	ectx2 := newFileContext(t, dir)
	r, err := soma.Open(ctx, ectx2, uri)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.NNZ(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	v, err := r.GetMetadata("owner")
	require.NoError(t, err)
	s, err := v.AsString()
	require.NoError(t, err)
	require.Equal(t, "integration", s)
}

func TestE2E_TimeTravel(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	uri := "file://exp/history"

	ectx := newFileContext(t, dir)
	createArray(t, ectx, uri)

	// three versions of the same array at timestamps 10, 20, 30
	for i, ts := range []uint64{10, 20, 30} {
		w, err := soma.Open(ctx, ectx, uri,
			soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(ts, ts))
		require.NoError(t, err)
		writeRecord(t, w, []int64{int64(i) * 4, int64(i)*4 + 1, int64(i)*4 + 2, int64(i)*4 + 3},
			[]int32{int32(i), int32(i), int32(i), int32(i)})
		require.NoError(t, w.Close())
	}

	require.Equal(t, uint64(0), countCells(t, ectx, uri, 0, 9))
	require.Equal(t, uint64(4), countCells(t, ectx, uri, 0, 10))
	require.Equal(t, uint64(8), countCells(t, ectx, uri, 0, 20))
	require.Equal(t, uint64(12), countCells(t, ectx, uri, 0, 30))
	require.Equal(t, uint64(8), countCells(t, ectx, uri, 20, 30))
}

func TestE2E_ConsolidateLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	uri := "file://exp/maintenance"

	ectx := newFileContext(t, dir)
	createArray(t, ectx, uri)

	for i := 0; i < 4; i++ {
		w, err := soma.Open(ctx, ectx, uri,
			soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(uint64(10+i), uint64(10+i)))
		require.NoError(t, err)
		writeRecord(t, w, []int64{int64(i) * 2, int64(i)*2 + 1}, []int32{1, 2})
		require.NoError(t, w.Close())
	}

	before := countCells(t, ectx, uri, 0, 50)
	require.Equal(t, uint64(8), before)

	frags, err := ectx.ListFragments(ctx, uri)
	require.NoError(t, err)
	require.Len(t, frags, 4)

	// consolidation merges the fragments without changing results
	require.NoError(t, engine.Consolidate(ctx, ectx, uri))
	require.Equal(t, before, countCells(t, ectx, uri, 0, 50))

	frags, err = ectx.ListFragments(ctx, uri)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.True(t, frags[0].Consolidated)

	// vacuum drops the superseded originals, still without changing results
	require.NoError(t, engine.Vacuum(ctx, ectx, uri))
	require.Equal(t, before, countCells(t, ectx, uri, 0, 50))

	// historical reads inside the consolidated span still resolve per cell
	require.Equal(t, uint64(4), countCells(t, ectx, uri, 0, 11))
}

func TestE2E_MetadataHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	uri := "file://exp/metahistory"

	ectx := newFileContext(t, dir)
	createArray(t, ectx, uri)

	for _, gen := range []struct {
		ts  uint64
		val int32
	}{{1, 10}, {2, 20}} {
		w, err := soma.Open(ctx, ectx, uri,
			soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(gen.ts, gen.ts))
		require.NoError(t, err)
		require.NoError(t, w.SetMetadata("gen", soma.Int32Value(gen.val)))
		require.NoError(t, w.Close())
	}

	w, err := soma.Open(ctx, ectx, uri,
		soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(3, 3))
	require.NoError(t, err)
	require.NoError(t, w.DeleteMetadata("gen"))
	require.NoError(t, w.Close())

	read := func(start, end uint64) (int32, bool) {
		r, err := soma.Open(ctx, ectx, uri, soma.WithTimestampRange(start, end))
		require.NoError(t, err)
		defer r.Close()

		v, err := r.GetMetadata("gen")
		if err != nil {
			require.ErrorIs(t, err, soma.ErrNotFound)
			return 0, false
		}
		got, err := v.AsInt32()
		require.NoError(t, err)
		return got, true
	}

	v, ok := read(1, 1)
	require.True(t, ok)
	require.Equal(t, int32(10), v)

	v, ok = read(1, 2)
	require.True(t, ok)
	require.Equal(t, int32(20), v)

	_, ok = read(1, 3)
	require.False(t, ok)
}
