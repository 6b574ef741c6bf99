package engine

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ColumnBuffer holds the cells of one column in wire layout: fixed-size
// values little-endian back to back, or concatenated bytes plus cells+1
// offsets for variable-size types. It is the unit of exchange between
// queries and fragment storage.
type ColumnBuffer struct {
	typ     Datatype
	data    []byte
	offsets []uint64
	cells   int
}

// NewColumnBuffer creates an empty buffer for the given datatype.
func NewColumnBuffer(t Datatype) *ColumnBuffer {
	b := &ColumnBuffer{typ: t}
	if t.FixedSize() < 0 {
		b.offsets = []uint64{0}
	}
	return b
}

// newColumnBufferFromParts wraps decoded storage bytes without copying.
func newColumnBufferFromParts(t Datatype, data []byte, offsets []uint64) (*ColumnBuffer, error) {
	b := &ColumnBuffer{typ: t, data: data, offsets: offsets}
	if size := t.FixedSize(); size > 0 {
		if len(data)%size != 0 {
			return nil, fmt.Errorf("%w: column data not a multiple of cell size", ErrCorrupt)
		}
		b.cells = len(data) / size
	} else {
		if len(offsets) == 0 || offsets[0] != 0 || offsets[len(offsets)-1] != uint64(len(data)) {
			return nil, fmt.Errorf("%w: column offsets inconsistent with data", ErrCorrupt)
		}
		b.cells = len(offsets) - 1
	}
	return b, nil
}

// Type returns the buffer datatype.
func (b *ColumnBuffer) Type() Datatype { return b.typ }

// Len returns the number of cells.
func (b *ColumnBuffer) Len() int { return b.cells }

// Bytes returns the raw cell bytes in wire layout.
func (b *ColumnBuffer) Bytes() []byte { return b.data }

// CellOffsets returns the offsets for variable-size types, nil otherwise.
func (b *ColumnBuffer) CellOffsets() []uint64 {
	if b.typ.FixedSize() > 0 {
		return nil
	}
	return b.offsets
}

// MemSize returns the approximate memory held by the buffer in bytes.
func (b *ColumnBuffer) MemSize() int64 {
	return int64(len(b.data)) + int64(len(b.offsets))*8
}

// Reset drops all cells but keeps the allocated capacity.
func (b *ColumnBuffer) Reset() {
	b.data = b.data[:0]
	if b.typ.FixedSize() < 0 {
		b.offsets = b.offsets[:1]
	}
	b.cells = 0
}

func (b *ColumnBuffer) requireType(t Datatype) {
	if b.typ != t {
		panic(fmt.Sprintf("engine: %s access on %s column buffer", t, b.typ))
	}
}

func (b *ColumnBuffer) appendFixed(raw ...byte) {
	b.data = append(b.data, raw...)
	b.cells++
}

// AppendBool appends one bool cell.
func (b *ColumnBuffer) AppendBool(v bool) {
	b.requireType(TypeBool)
	var raw byte
	if v {
		raw = 1
	}
	b.appendFixed(raw)
}

// AppendInt8 appends one int8 cell.
func (b *ColumnBuffer) AppendInt8(v int8) {
	b.requireType(TypeInt8)
	b.appendFixed(byte(v))
}

// AppendInt16 appends one int16 cell.
func (b *ColumnBuffer) AppendInt16(v int16) {
	b.requireType(TypeInt16)
	b.data = binary.LittleEndian.AppendUint16(b.data, uint16(v))
	b.cells++
}

// AppendInt32 appends one int32 cell.
func (b *ColumnBuffer) AppendInt32(v int32) {
	b.requireType(TypeInt32)
	b.data = binary.LittleEndian.AppendUint32(b.data, uint32(v))
	b.cells++
}

// AppendInt64 appends one int64 cell.
func (b *ColumnBuffer) AppendInt64(v int64) {
	b.requireType(TypeInt64)
	b.data = binary.LittleEndian.AppendUint64(b.data, uint64(v))
	b.cells++
}

// AppendUint8 appends one uint8 cell.
func (b *ColumnBuffer) AppendUint8(v uint8) {
	b.requireType(TypeUint8)
	b.appendFixed(v)
}

// AppendUint16 appends one uint16 cell.
func (b *ColumnBuffer) AppendUint16(v uint16) {
	b.requireType(TypeUint16)
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
	b.cells++
}

// AppendUint32 appends one uint32 cell.
func (b *ColumnBuffer) AppendUint32(v uint32) {
	b.requireType(TypeUint32)
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
	b.cells++
}

// AppendUint64 appends one uint64 cell.
func (b *ColumnBuffer) AppendUint64(v uint64) {
	b.requireType(TypeUint64)
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
	b.cells++
}

// AppendFloat32 appends one float32 cell.
func (b *ColumnBuffer) AppendFloat32(v float32) {
	b.requireType(TypeFloat32)
	b.data = binary.LittleEndian.AppendUint32(b.data, math.Float32bits(v))
	b.cells++
}

// AppendFloat64 appends one float64 cell.
func (b *ColumnBuffer) AppendFloat64(v float64) {
	b.requireType(TypeFloat64)
	b.data = binary.LittleEndian.AppendUint64(b.data, math.Float64bits(v))
	b.cells++
}

// AppendString appends one string cell.
func (b *ColumnBuffer) AppendString(s string) {
	b.requireType(TypeString)
	b.data = append(b.data, s...)
	b.offsets = append(b.offsets, uint64(len(b.data)))
	b.cells++
}

// Bool returns cell i as a bool.
func (b *ColumnBuffer) Bool(i int) bool {
	b.requireType(TypeBool)
	return b.data[i] != 0
}

// Int8 returns cell i as an int8.
func (b *ColumnBuffer) Int8(i int) int8 {
	b.requireType(TypeInt8)
	return int8(b.data[i])
}

// Int16 returns cell i as an int16.
func (b *ColumnBuffer) Int16(i int) int16 {
	b.requireType(TypeInt16)
	return int16(binary.LittleEndian.Uint16(b.data[i*2:]))
}

// Int32 returns cell i as an int32.
func (b *ColumnBuffer) Int32(i int) int32 {
	b.requireType(TypeInt32)
	return int32(binary.LittleEndian.Uint32(b.data[i*4:]))
}

// Int64 returns cell i as an int64.
func (b *ColumnBuffer) Int64(i int) int64 {
	b.requireType(TypeInt64)
	return int64(binary.LittleEndian.Uint64(b.data[i*8:]))
}

// Uint8 returns cell i as a uint8.
func (b *ColumnBuffer) Uint8(i int) uint8 {
	b.requireType(TypeUint8)
	return b.data[i]
}

// Uint16 returns cell i as a uint16.
func (b *ColumnBuffer) Uint16(i int) uint16 {
	b.requireType(TypeUint16)
	return binary.LittleEndian.Uint16(b.data[i*2:])
}

// Uint32 returns cell i as a uint32.
func (b *ColumnBuffer) Uint32(i int) uint32 {
	b.requireType(TypeUint32)
	return binary.LittleEndian.Uint32(b.data[i*4:])
}

// Uint64 returns cell i as a uint64.
func (b *ColumnBuffer) Uint64(i int) uint64 {
	b.requireType(TypeUint64)
	return binary.LittleEndian.Uint64(b.data[i*8:])
}

// Float32 returns cell i as a float32.
func (b *ColumnBuffer) Float32(i int) float32 {
	b.requireType(TypeFloat32)
	return math.Float32frombits(binary.LittleEndian.Uint32(b.data[i*4:]))
}

// Float64 returns cell i as a float64.
func (b *ColumnBuffer) Float64(i int) float64 {
	b.requireType(TypeFloat64)
	return math.Float64frombits(binary.LittleEndian.Uint64(b.data[i*8:]))
}

// String returns cell i as a string.
func (b *ColumnBuffer) String(i int) string {
	b.requireType(TypeString)
	return string(b.data[b.offsets[i]:b.offsets[i+1]])
}

// Int64s decodes the whole column as int64 values. Used for dimension
// coordinates, which are always int64.
func (b *ColumnBuffer) Int64s() []int64 {
	b.requireType(TypeInt64)
	out := make([]int64, b.cells)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b.data[i*8:]))
	}
	return out
}

// Uint64s decodes the whole column as uint64 values.
func (b *ColumnBuffer) Uint64s() []uint64 {
	b.requireType(TypeUint64)
	out := make([]uint64, b.cells)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b.data[i*8:])
	}
	return out
}

// cellBytes returns the encoded bytes of cell i.
func (b *ColumnBuffer) cellBytes(i int) []byte {
	if size := b.typ.FixedSize(); size > 0 {
		return b.data[i*size : (i+1)*size]
	}
	return b.data[b.offsets[i]:b.offsets[i+1]]
}

// appendCell copies cell i of src, which must have the same datatype.
func (b *ColumnBuffer) appendCell(src *ColumnBuffer, i int) {
	b.requireType(src.typ)
	raw := src.cellBytes(i)
	b.data = append(b.data, raw...)
	if b.typ.FixedSize() < 0 {
		b.offsets = append(b.offsets, uint64(len(b.data)))
	}
	b.cells++
}

// Gather returns a new buffer holding the given rows in order.
func (b *ColumnBuffer) Gather(rows []int) *ColumnBuffer {
	out := NewColumnBuffer(b.typ)
	for _, i := range rows {
		out.appendCell(b, i)
	}
	return out
}
