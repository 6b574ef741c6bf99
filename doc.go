// Package soma provides versioned access to sparse multi-dimensional arrays
// stored as immutable timestamped fragments.
//
// An Array session binds a storage array to an open mode and a timestamp
// interval. Reads see exactly the fragments and metadata committed inside the
// interval; writes stamp new fragments with the interval end. Data is never
// modified in place, so any historical state can be reproduced by reopening
// with the matching interval.
//
// # Quick Start
//
//	ctx := context.Background()
//	ectx, _ := engine.NewContext(engine.WithFileSystem("mem", vfs.NewMemFS()))
//
//	schema := &engine.Schema{
//	    Dimensions: []engine.Dimension{{Name: "d0", Domain: [2]int64{0, 1 << 20}}},
//	    Attributes: []engine.Attribute{{Name: "a0", Type: engine.TypeInt32}},
//	}
//	_ = soma.Create(ctx, ectx, "mem://exp/x", schema)
//
//	arr, _ := soma.Open(ctx, ectx, "mem://exp/x", soma.WithMode(soma.ModeWrite))
//	_ = arr.Write(ctx, record) // arrow.Record with one column per dimension and attribute
//	_ = arr.Close()
//
//	arr, _ = soma.Open(ctx, ectx, "mem://exp/x")
//	for batch, err := range arr.Batches(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    process(batch.Record())
//	    batch.Release()
//	}
//	_ = arr.Close()
//
// # Time Travel
//
// Every write is stamped with the session's interval end, and reads resolve
// against the fragments committed inside the interval:
//
//	arr, _ := soma.Open(ctx, ectx, uri,
//	    soma.WithMode(soma.ModeWrite), soma.WithTimestampRange(10, 10))
//	_ = arr.Write(ctx, record) // visible at timestamps >= 10
//	_ = arr.Close()
//
//	arr, _ = soma.Open(ctx, ectx, uri, soma.WithTimestampRange(0, 9))
//	n, _ := arr.NNZ(ctx) // 0: the write at 10 is outside the interval
//
// A session can rebind its mode and interval in place with Reopen.
//
// # Maintenance
//
// Fragments accumulate one per write session. Consolidation merges them into
// one fragment covering the combined timestamp span, and vacuuming removes
// the superseded originals. Neither changes query results:
//
//	_ = engine.Consolidate(ctx, ectx, uri)
//	_ = engine.Vacuum(ctx, ectx, uri)
//
// # Storage Backends
//
// Array URIs are resolved through filesystems registered on the engine
// context. The vfs package ships an in-memory filesystem, a local-disk
// filesystem and an S3 filesystem usable for mem://, file:// and
// s3://-style schemes:
//
//	ectx, _ := engine.NewContext(
//	    engine.WithFileSystem("mem", vfs.NewMemFS()),
//	    engine.WithFileSystem("file", vfs.NewOSFS()),
//	    engine.WithFileSystem("s3", s3fs),
//	)
//
// # Key Features
//
//   - Timestamp-interval reads and writes over immutable fragments
//   - Apache Arrow record batches on both the read and write paths
//   - Exact cell counts from fragment metadata, with a scan fallback
//   - Versioned key-value array metadata with deletion tombstones
//   - Fragment consolidation and vacuuming
//   - Memory-budgeted queries with concurrent fragment loads
package soma
