package soma

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

var errNoQuery = errors.New("no submitted query")

// ResultBatch is one row-aligned slice of a read result. Columns are arrow
// arrays named by schema. The caller owns the batch and must Release it.
type ResultBatch struct {
	rec arrow.Record
}

// Record returns the underlying arrow record.
func (b *ResultBatch) Record() arrow.Record { return b.rec }

// Names returns the column names in result order.
func (b *ResultBatch) Names() []string {
	fields := b.rec.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// NumRows returns the number of rows in the batch.
func (b *ResultBatch) NumRows() int64 { return b.rec.NumRows() }

// Column returns the named column, or nil when the batch does not carry it.
func (b *ResultBatch) Column(name string) arrow.Array {
	for i, f := range b.rec.Schema().Fields() {
		if f.Name == name {
			return b.rec.Column(i)
		}
	}
	return nil
}

// Release frees the batch memory.
func (b *ResultBatch) Release() { b.rec.Release() }

// Submit begins, or restarts, read execution against the session's
// interval, columns and order. The first batch is produced eagerly, so
// engine failures surface here. Read mode only.
func (a *Array) Submit(ctx context.Context) error {
	start := time.Now()
	err := a.submit(ctx)
	a.metrics.RecordQuery(time.Since(start), err)
	a.logger.LogQuery(ctx, "submit", 0, err)
	return err
}

func (a *Array) submit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return ErrNotOpen
	}
	if a.mode != ModeRead {
		return &QueryError{Op: "submit", cause: engine.ErrWriteOnly}
	}

	a.resetReadLocked()

	q := a.eng.NewQuery()
	if len(a.columns) > 0 {
		if err := q.SetColumns(a.columns...); err != nil {
			q.Close()
			return &QueryError{Op: "submit", cause: err}
		}
		a.readCols = a.columns
	} else {
		a.readCols = a.schema.Columns()
	}
	q.SetBatchCells(a.batchSize)
	q.SetLayout(a.order.layout())
	a.query = q

	batch, done, err := a.produceLocked(ctx)
	if err != nil {
		a.resetReadLocked()
		return &QueryError{Op: "submit", cause: translateError(err)}
	}
	if done {
		a.query.Close()
		a.query = nil
	}
	if batch == nil {
		a.state = readDone
		return nil
	}
	a.pending = batch
	a.lastDone = done
	a.state = readActive
	return nil
}

// ReadNext returns the next batch of the submitted read, blocking while
// the engine fills it. It returns (nil, nil) once the result is drained;
// reading again requires a new Submit.
func (a *Array) ReadNext(ctx context.Context) (*ResultBatch, error) {
	start := time.Now()
	batch, err := a.readNext(ctx)

	rows := 0
	if batch != nil {
		rows = int(batch.NumRows())
	}
	if err != nil {
		a.metrics.RecordQuery(time.Since(start), err)
	} else if batch != nil {
		a.metrics.RecordBatch(rows, time.Since(start))
	}
	a.logger.LogQuery(ctx, "read", rows, err)
	return batch, err
}

func (a *Array) readNext(ctx context.Context) (*ResultBatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return nil, ErrNotOpen
	}

	switch a.state {
	case readIdle:
		return nil, &QueryError{Op: "read", cause: errNoQuery}
	case readDone:
		return nil, nil
	}

	if a.pending != nil {
		batch := a.pending
		a.pending = nil
		if a.lastDone {
			a.state = readDone
		}
		return batch, nil
	}

	batch, done, err := a.produceLocked(ctx)
	if err != nil {
		a.resetReadLocked()
		return nil, &QueryError{Op: "read", cause: translateError(err)}
	}
	if done {
		a.query.Close()
		a.query = nil
		a.state = readDone
	}
	return batch, nil
}

// produceLocked runs one engine round and assembles the batch. Caller
// holds a.mu. A nil batch means the round was empty, which only happens
// once the result is exhausted.
func (a *Array) produceLocked(ctx context.Context) (*ResultBatch, bool, error) {
	status, err := a.query.Submit(ctx)
	if err != nil {
		return nil, false, err
	}
	done := status == engine.StatusComplete

	bufs := a.query.Buffers()
	if bufs[a.readCols[0]].Len() == 0 {
		return nil, done, nil
	}
	rec := buildRecord(a.alloc, a.schema, a.readCols, bufs)
	return &ResultBatch{rec: rec}, done, nil
}

// Batches submits the read and iterates its batches in the session's
// result order. The consumer owns each batch and must Release it.
//
//	for batch, err := range a.Batches(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    process(batch)
//	    batch.Release()
//	}
func (a *Array) Batches(ctx context.Context) iter.Seq2[*ResultBatch, error] {
	return func(yield func(*ResultBatch, error) bool) {
		if err := a.Submit(ctx); err != nil {
			yield(nil, err)
			return
		}
		for {
			batch, err := a.ReadNext(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if batch == nil {
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

func arrowType(t engine.Datatype) arrow.DataType {
	switch t {
	case engine.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case engine.TypeInt8:
		return arrow.PrimitiveTypes.Int8
	case engine.TypeInt16:
		return arrow.PrimitiveTypes.Int16
	case engine.TypeInt32:
		return arrow.PrimitiveTypes.Int32
	case engine.TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case engine.TypeUint8:
		return arrow.PrimitiveTypes.Uint8
	case engine.TypeUint16:
		return arrow.PrimitiveTypes.Uint16
	case engine.TypeUint32:
		return arrow.PrimitiveTypes.Uint32
	case engine.TypeUint64:
		return arrow.PrimitiveTypes.Uint64
	case engine.TypeFloat32:
		return arrow.PrimitiveTypes.Float32
	case engine.TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case engine.TypeString:
		return arrow.BinaryTypes.String
	default:
		return nil
	}
}

func buildRecord(alloc memory.Allocator, schema *engine.Schema, cols []string, bufs map[string]*engine.ColumnBuffer) arrow.Record {
	fields := make([]arrow.Field, len(cols))
	for i, name := range cols {
		typ, _ := schema.ColumnType(name)
		fields[i] = arrow.Field{Name: name, Type: arrowType(typ)}
	}

	builder := array.NewRecordBuilder(alloc, arrow.NewSchema(fields, nil))
	defer builder.Release()
	for i, name := range cols {
		appendColumn(builder.Field(i), bufs[name])
	}
	return builder.NewRecord()
}

func appendColumn(b array.Builder, buf *engine.ColumnBuffer) {
	n := buf.Len()
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Bool(i))
		}
	case *array.Int8Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Int8(i))
		}
	case *array.Int16Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Int16(i))
		}
	case *array.Int32Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Int32(i))
		}
	case *array.Int64Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Int64(i))
		}
	case *array.Uint8Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Uint8(i))
		}
	case *array.Uint16Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Uint16(i))
		}
	case *array.Uint32Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Uint32(i))
		}
	case *array.Uint64Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Uint64(i))
		}
	case *array.Float32Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Float32(i))
		}
	case *array.Float64Builder:
		for i := 0; i < n; i++ {
			bld.Append(buf.Float64(i))
		}
	case *array.StringBuilder:
		for i := 0; i < n; i++ {
			bld.Append(buf.String(i))
		}
	}
}
