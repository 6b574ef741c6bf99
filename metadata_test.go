package soma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

func TestMetadataLifecycle(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/meta"
	createTestArray(t, ectx, uri, false)

	// stage a value at timestamp 1
	w, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	require.NoError(t, w.SetMetadata("md", Int32Value(100)))

	// the staging session sees its own write immediately
	ok, err := w.HasMetadata("md")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := w.MetadataNum()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, w.Close())

	// a fresh read at the write timestamp sees the flushed value
	r, err := Open(ctx, ectx, uri, WithTimestampRange(1, 1))
	require.NoError(t, err)

	ok, err = r.HasMetadata("md")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := r.GetMetadata("md")
	require.NoError(t, err)
	assert.Equal(t, engine.TypeInt32, v.Datatype())
	assert.Equal(t, uint32(1), v.NumValues())
	got, err := v.AsInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(100), got)

	key, byIndex, err := r.GetMetadataAt(0)
	require.NoError(t, err)
	assert.Equal(t, "md", key)
	assert.Equal(t, v, byIndex)
	require.NoError(t, r.Close())

	// delete at timestamp 2
	w2, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(2, 2))
	require.NoError(t, err)
	require.NoError(t, w2.DeleteMetadata("md"))
	require.NoError(t, w2.Close())

	// after the tombstone the key is gone
	r3, err := Open(ctx, ectx, uri, WithTimestampRange(3, 3))
	require.NoError(t, err)

	ok, err = r3.HasMetadata("md")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err = r3.MetadataNum()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r3.GetMetadata("md")
	var mke *MetadataKeyError
	require.ErrorAs(t, err, &mke)
	assert.Equal(t, "md", mke.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r3.Close())

	// the value is still visible before the tombstone
	r4, err := Open(ctx, ectx, uri, WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer r4.Close()

	v, err = r4.GetMetadata("md")
	require.NoError(t, err)
	got, err = v.AsInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(100), got)
}

func TestMetadataReopenFlush(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/metareopen"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer arr.Close()

	require.NoError(t, arr.SetMetadata("md", Int64Value(7)))

	// reopening flushes the staged record and reloads the cache from disk
	require.NoError(t, arr.Reopen(ctx, ModeRead, 1, 1))

	v, err := arr.GetMetadata("md")
	require.NoError(t, err)
	got, err := v.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestMetadataOrder(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/metaorder"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer arr.Close()

	require.NoError(t, arr.SetMetadata("b", Int32Value(2)))
	require.NoError(t, arr.SetMetadata("a", Int32Value(1)))
	require.NoError(t, arr.SetMetadata("c", Int32Value(3)))

	n, err := arr.MetadataNum()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	var keys []string
	for i := 0; i < n; i++ {
		key, _, err := arr.GetMetadataAt(i)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	_, _, err = arr.GetMetadataAt(3)
	assert.ErrorContains(t, err, "out of range")
	_, _, err = arr.GetMetadataAt(-1)
	assert.ErrorContains(t, err, "out of range")
}

func TestMetadataOverwrite(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/metaoverwrite"
	createTestArray(t, ectx, uri, false)

	w, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	require.NoError(t, w.SetMetadata("md", StringValue("old")))
	require.NoError(t, w.Close())

	w2, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(2, 2))
	require.NoError(t, err)
	require.NoError(t, w2.SetMetadata("md", StringValue("new")))
	require.NoError(t, w2.Close())

	r, err := Open(ctx, ectx, uri, WithTimestampRange(0, 5))
	require.NoError(t, err)
	defer r.Close()

	v, err := r.GetMetadata("md")
	require.NoError(t, err)
	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "new", s)

	n, err := r.MetadataNum()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetadataReadOnlySession(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/metareadonly"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri)
	require.NoError(t, err)
	defer arr.Close()

	err = arr.SetMetadata("md", Int32Value(1))
	assert.ErrorIs(t, err, engine.ErrReadOnly)
	err = arr.DeleteMetadata("md")
	assert.ErrorIs(t, err, engine.ErrReadOnly)
}

func TestMetadataValues(t *testing.T) {
	i32 := Int32Value(-7)
	assert.Equal(t, engine.TypeInt32, i32.Datatype())
	assert.Equal(t, uint32(1), i32.NumValues())
	got32, err := i32.AsInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), got32)

	i64 := Int64Value(1 << 40)
	got64, err := i64.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), got64)

	f64 := Float64Value(3.5)
	gotF, err := f64.AsFloat64()
	require.NoError(t, err)
	assert.Equal(t, 3.5, gotF)

	s := StringValue("hello")
	assert.Equal(t, engine.TypeString, s.Datatype())
	assert.Equal(t, uint32(5), s.NumValues())
	gotS, err := s.AsString()
	require.NoError(t, err)
	assert.Equal(t, "hello", gotS)

	b := BytesValue([]byte{1, 2, 3})
	assert.Equal(t, engine.TypeUint8, b.Datatype())
	assert.Equal(t, uint32(3), b.NumValues())
	assert.Equal(t, []byte{1, 2, 3}, b.Bytes())

	raw := RawValue(engine.TypeUint16, 2, []byte{1, 0, 2, 0})
	assert.Equal(t, engine.TypeUint16, raw.Datatype())
	assert.Equal(t, uint32(2), raw.NumValues())

	// accessors reject mismatched types
	_, err = i32.AsInt64()
	assert.Error(t, err)
	_, err = s.AsInt32()
	assert.Error(t, err)
	_, err = b.AsFloat64()
	assert.Error(t, err)
	_, err = i64.AsString()
	assert.Error(t, err)
}

func TestMetadataEmptyKey(t *testing.T) {
	ectx := newTestEngineContext()
	ctx := context.Background()
	uri := "mem://arrays/metaemptykey"
	createTestArray(t, ectx, uri, false)

	arr, err := Open(ctx, ectx, uri, WithMode(ModeWrite), WithTimestampRange(1, 1))
	require.NoError(t, err)
	defer arr.Close()

	assert.Error(t, arr.SetMetadata("", Int32Value(1)))
	assert.Error(t, arr.DeleteMetadata(""))
}
