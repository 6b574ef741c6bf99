package benchmark_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	soma "github.com/dudoslav/TileDB-SOMA"
	"github.com/dudoslav/TileDB-SOMA/engine"
	"github.com/dudoslav/TileDB-SOMA/testutil"
	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// ============================================================================
// Benchmark Configuration
// ============================================================================

// Standard cell counts used across benchmarks for consistency.
const (
	cellsSmall  = 1_000   // Quick iteration
	cellsMedium = 16_384  // One default read batch
	cellsLarge  = 131_072 // Multi-batch drains
)

// Seed for deterministic benchmarks - enables reproducible comparisons.
const benchSeed = 42

// ============================================================================
// Benchmark Helpers
// ============================================================================

// newBenchContext returns an engine context backed by an in-memory
// filesystem so benchmarks measure compute, not disk.
func newBenchContext(b *testing.B) *engine.Context {
	b.Helper()
	ectx, err := engine.NewContext(engine.WithFileSystem("mem", vfs.NewMemFS()))
	if err != nil {
		b.Fatal(err)
	}
	return ectx
}

// createBenchArray creates a one-dimensional int32 array wide enough for
// every benchmark workload.
func createBenchArray(b *testing.B, ectx *engine.Context, uri string) {
	b.Helper()
	schema := &engine.Schema{
		Dimensions:  []engine.Dimension{{Name: "d0", Domain: [2]int64{0, 1 << 40}}},
		Attributes:  []engine.Attribute{{Name: "a0", Type: engine.TypeInt32}},
		Compression: engine.CompressionZSTD,
	}
	if err := soma.Create(context.Background(), ectx, uri, schema); err != nil {
		b.Fatal(err)
	}
}

// benchRecord builds a write batch of ncells sequential coordinates
// starting at base, shuffled so writes pay the full sorting cost.
func benchRecord(rng *testutil.RNG, base int64, ncells int) arrow.Record {
	bld := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema([]arrow.Field{
		{Name: "d0", Type: arrow.PrimitiveTypes.Int64},
		{Name: "a0", Type: arrow.PrimitiveTypes.Int32},
	}, nil))
	defer bld.Release()
	for _, i := range rng.Perm(ncells) {
		bld.Field(0).(*array.Int64Builder).Append(base + int64(i))
		bld.Field(1).(*array.Int32Builder).Append(int32(i))
	}
	return bld.NewRecord()
}

// fillFragments commits nfrags fragments of ncells cells each, with
// disjoint coordinates and increasing timestamps starting at 10.
func fillFragments(b *testing.B, ectx *engine.Context, uri string, nfrags, ncells int) {
	b.Helper()
	ctx := context.Background()
	rng := testutil.NewRNG(benchSeed)
	for i := 0; i < nfrags; i++ {
		ts := uint64(10 + i)
		arr, err := soma.Open(ctx, ectx, uri,
			soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(ts, ts))
		if err != nil {
			b.Fatal(err)
		}
		rec := benchRecord(rng, int64(i*ncells), ncells)
		if err := arr.Write(ctx, rec); err != nil {
			b.Fatal(err)
		}
		rec.Release()
		if err := arr.Close(); err != nil {
			b.Fatal(err)
		}
	}
}
