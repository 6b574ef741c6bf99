package soma

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

// Write commits one fragment from a row-aligned arrow record whose column
// names match the schema columns. Cells are stamped with the session's
// interval end. Write mode only.
func (a *Array) Write(ctx context.Context, rec arrow.Record) error {
	start := time.Now()
	err := a.write(ctx, rec)

	rows := 0
	if rec != nil {
		rows = int(rec.NumRows())
	}
	a.metrics.RecordQuery(time.Since(start), err)
	a.logger.LogQuery(ctx, "write", rows, err)
	return err
}

func (a *Array) write(ctx context.Context, rec arrow.Record) error {
	eng, err := a.handle()
	if err != nil {
		return err
	}
	if a.Mode() != ModeWrite {
		return &QueryError{Op: "write", cause: engine.ErrReadOnly}
	}
	if rec == nil || rec.NumRows() == 0 {
		return &QueryError{Op: "write", cause: fmt.Errorf("empty record")}
	}

	q := eng.NewQuery()
	defer q.Close()

	schema := a.Schema()
	for i := 0; i < int(rec.NumCols()); i++ {
		name := rec.Schema().Field(i).Name
		typ, ok := schema.ColumnType(name)
		if !ok {
			return &QueryError{Op: "write", cause: fmt.Errorf("unknown column %q", name)}
		}
		buf, err := columnFromArrow(rec.Column(i), typ)
		if err != nil {
			return &QueryError{Op: "write", cause: fmt.Errorf("column %q: %w", name, err)}
		}
		if err := q.SetDataBuffer(name, buf); err != nil {
			return &QueryError{Op: "write", cause: err}
		}
	}

	if _, err := q.Submit(ctx); err != nil {
		return &QueryError{Op: "write", cause: translateError(err)}
	}
	return nil
}

// columnFromArrow copies an arrow column into an engine buffer of the
// schema type, rejecting type mismatches and nulls.
func columnFromArrow(col arrow.Array, typ engine.Datatype) (*engine.ColumnBuffer, error) {
	if col.NullN() > 0 {
		return nil, fmt.Errorf("null values not supported")
	}

	buf := engine.NewColumnBuffer(typ)
	n := col.Len()
	switch typ {
	case engine.TypeBool:
		vals, ok := col.(*array.Boolean)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendBool(vals.Value(i))
		}
	case engine.TypeInt8:
		vals, ok := col.(*array.Int8)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendInt8(vals.Value(i))
		}
	case engine.TypeInt16:
		vals, ok := col.(*array.Int16)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendInt16(vals.Value(i))
		}
	case engine.TypeInt32:
		vals, ok := col.(*array.Int32)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendInt32(vals.Value(i))
		}
	case engine.TypeInt64:
		vals, ok := col.(*array.Int64)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendInt64(vals.Value(i))
		}
	case engine.TypeUint8:
		vals, ok := col.(*array.Uint8)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendUint8(vals.Value(i))
		}
	case engine.TypeUint16:
		vals, ok := col.(*array.Uint16)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendUint16(vals.Value(i))
		}
	case engine.TypeUint32:
		vals, ok := col.(*array.Uint32)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendUint32(vals.Value(i))
		}
	case engine.TypeUint64:
		vals, ok := col.(*array.Uint64)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendUint64(vals.Value(i))
		}
	case engine.TypeFloat32:
		vals, ok := col.(*array.Float32)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendFloat32(vals.Value(i))
		}
	case engine.TypeFloat64:
		vals, ok := col.(*array.Float64)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendFloat64(vals.Value(i))
		}
	case engine.TypeString:
		vals, ok := col.(*array.String)
		if !ok {
			return nil, typeMismatch(col, typ)
		}
		for i := 0; i < n; i++ {
			buf.AppendString(vals.Value(i))
		}
	default:
		return nil, fmt.Errorf("unsupported datatype %s", typ)
	}
	return buf, nil
}

func typeMismatch(col arrow.Array, want engine.Datatype) error {
	return fmt.Errorf("arrow type %s does not match schema type %s", col.DataType(), want)
}
