package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnBufferFixed(t *testing.T) {
	b := NewColumnBuffer(TypeInt64)
	for i := int64(0); i < 5; i++ {
		b.AppendInt64(i * 100)
	}

	assert.Equal(t, TypeInt64, b.Type())
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 40, len(b.Bytes()))
	assert.Nil(t, b.CellOffsets())
	assert.Equal(t, int64(300), b.Int64(3))
	assert.Equal(t, []int64{0, 100, 200, 300, 400}, b.Int64s())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Bytes())
}

func TestColumnBufferFloats(t *testing.T) {
	b := NewColumnBuffer(TypeFloat64)
	b.AppendFloat64(3.25)
	b.AppendFloat64(-0.5)
	assert.Equal(t, 3.25, b.Float64(0))
	assert.Equal(t, -0.5, b.Float64(1))

	f := NewColumnBuffer(TypeFloat32)
	f.AppendFloat32(1.5)
	assert.Equal(t, float32(1.5), f.Float32(0))
}

func TestColumnBufferString(t *testing.T) {
	b := NewColumnBuffer(TypeString)
	b.AppendString("hello")
	b.AppendString("")
	b.AppendString("world")

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, "hello", b.String(0))
	assert.Equal(t, "", b.String(1))
	assert.Equal(t, "world", b.String(2))
	assert.Equal(t, []uint64{0, 5, 5, 10}, b.CellOffsets())
}

func TestColumnBufferGather(t *testing.T) {
	b := NewColumnBuffer(TypeString)
	b.AppendString("a")
	b.AppendString("bb")
	b.AppendString("ccc")

	g := b.Gather([]int{2, 0})
	require.Equal(t, 2, g.Len())
	assert.Equal(t, "ccc", g.String(0))
	assert.Equal(t, "a", g.String(1))
}

func TestColumnBufferAppendCell(t *testing.T) {
	src := NewColumnBuffer(TypeInt32)
	src.AppendInt32(7)
	src.AppendInt32(11)

	dst := NewColumnBuffer(TypeInt32)
	dst.appendCell(src, 1)
	dst.appendCell(src, 0)
	require.Equal(t, 2, dst.Len())
	assert.Equal(t, int32(11), dst.Int32(0))
	assert.Equal(t, int32(7), dst.Int32(1))
}

func TestColumnBufferFromParts(t *testing.T) {
	buf, err := newColumnBufferFromParts(TypeInt32, []byte{1, 0, 0, 0, 2, 0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, int32(2), buf.Int32(1))

	_, err = newColumnBufferFromParts(TypeInt32, []byte{1, 0, 0}, nil)
	assert.ErrorIs(t, err, ErrCorrupt)

	buf, err = newColumnBufferFromParts(TypeString, []byte("ab"), []uint64{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, "b", buf.String(1))

	_, err = newColumnBufferFromParts(TypeString, []byte("ab"), []uint64{0, 1})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = newColumnBufferFromParts(TypeString, []byte("ab"), nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestColumnBufferTypeMismatchPanics(t *testing.T) {
	b := NewColumnBuffer(TypeInt64)
	assert.Panics(t, func() { b.AppendInt32(1) })
	assert.Panics(t, func() { b.Uint64(0) })
}
