package soma

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

// MetadataValue is one typed array metadata value: a datatype, an element
// count and the encoded payload. Use the typed constructors and accessors;
// multi-element values can be built from raw bytes with RawValue.
type MetadataValue struct {
	typ engine.Datatype
	num uint32
	raw []byte
}

// Int32Value returns a single int32 metadata value.
func Int32Value(v int32) MetadataValue {
	return MetadataValue{
		typ: engine.TypeInt32,
		num: 1,
		raw: binary.LittleEndian.AppendUint32(nil, uint32(v)),
	}
}

// Int64Value returns a single int64 metadata value.
func Int64Value(v int64) MetadataValue {
	return MetadataValue{
		typ: engine.TypeInt64,
		num: 1,
		raw: binary.LittleEndian.AppendUint64(nil, uint64(v)),
	}
}

// Float64Value returns a single float64 metadata value.
func Float64Value(v float64) MetadataValue {
	return MetadataValue{
		typ: engine.TypeFloat64,
		num: 1,
		raw: binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)),
	}
}

// StringValue returns a string metadata value. The element count is the
// byte length.
func StringValue(s string) MetadataValue {
	return MetadataValue{typ: engine.TypeString, num: uint32(len(s)), raw: []byte(s)}
}

// BytesValue returns an opaque byte metadata value.
func BytesValue(b []byte) MetadataValue {
	return MetadataValue{typ: engine.TypeUint8, num: uint32(len(b)), raw: append([]byte(nil), b...)}
}

// RawValue returns a metadata value from an already encoded payload.
func RawValue(typ engine.Datatype, num uint32, raw []byte) MetadataValue {
	return MetadataValue{typ: typ, num: num, raw: append([]byte(nil), raw...)}
}

// Datatype returns the value datatype.
func (v MetadataValue) Datatype() engine.Datatype { return v.typ }

// NumValues returns the element count.
func (v MetadataValue) NumValues() uint32 { return v.num }

// Bytes returns a copy of the encoded payload.
func (v MetadataValue) Bytes() []byte { return append([]byte(nil), v.raw...) }

// AsInt32 decodes a single int32 value.
func (v MetadataValue) AsInt32() (int32, error) {
	if v.typ != engine.TypeInt32 || v.num != 1 || len(v.raw) != 4 {
		return 0, fmt.Errorf("metadata value is %s[%d], not a single int32", v.typ, v.num)
	}
	return int32(binary.LittleEndian.Uint32(v.raw)), nil
}

// AsInt64 decodes a single int64 value.
func (v MetadataValue) AsInt64() (int64, error) {
	if v.typ != engine.TypeInt64 || v.num != 1 || len(v.raw) != 8 {
		return 0, fmt.Errorf("metadata value is %s[%d], not a single int64", v.typ, v.num)
	}
	return int64(binary.LittleEndian.Uint64(v.raw)), nil
}

// AsFloat64 decodes a single float64 value.
func (v MetadataValue) AsFloat64() (float64, error) {
	if v.typ != engine.TypeFloat64 || v.num != 1 || len(v.raw) != 8 {
		return 0, fmt.Errorf("metadata value is %s[%d], not a single float64", v.typ, v.num)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.raw)), nil
}

// AsString decodes a string value.
func (v MetadataValue) AsString() (string, error) {
	if v.typ != engine.TypeString {
		return "", fmt.Errorf("metadata value is %s[%d], not a string", v.typ, v.num)
	}
	return string(v.raw), nil
}

// loadMetadataLocked rebuilds the visible metadata view from the committed
// records: per key, the latest record at or before the interval end wins,
// and a winning tombstone hides the key. Caller holds a.mu, or owns the
// array exclusively during open.
func (a *Array) loadMetadataLocked(ctx context.Context) error {
	records, err := a.eng.MetadataRecords(ctx)
	if err != nil {
		return translateError(err)
	}

	// Records arrive ordered by (key, timestamp), so the last record of
	// each key is its visible state.
	meta := make(map[string]MetadataValue)
	for _, rec := range records {
		if rec.Deleted {
			delete(meta, rec.Key)
			continue
		}
		meta[rec.Key] = MetadataValue{
			typ: rec.Type,
			num: rec.ValueNum,
			raw: append([]byte(nil), rec.Value...),
		}
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	a.meta = meta
	a.metaKeys = keys
	return nil
}

// SetMetadata stages a metadata value under key. The record becomes
// durable when the session closes or reopens, stamped with the interval
// end; the session's own view updates immediately. Write mode only.
func (a *Array) SetMetadata(key string, value MetadataValue) error {
	start := time.Now()
	err := a.setMetadata(key, value)
	a.metrics.RecordMetadata(time.Since(start), err)
	return err
}

func (a *Array) setMetadata(key string, value MetadataValue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return ErrNotOpen
	}
	if err := a.eng.PutMetadata(key, value.typ, value.num, value.raw); err != nil {
		return translateError(err)
	}

	if _, exists := a.meta[key]; !exists {
		i := sort.SearchStrings(a.metaKeys, key)
		a.metaKeys = append(a.metaKeys, "")
		copy(a.metaKeys[i+1:], a.metaKeys[i:])
		a.metaKeys[i] = key
	}
	a.meta[key] = value
	return nil
}

// DeleteMetadata stages a deletion tombstone for key. The key need not
// exist. Write mode only.
func (a *Array) DeleteMetadata(key string) error {
	start := time.Now()
	err := a.deleteMetadata(key)
	a.metrics.RecordMetadata(time.Since(start), err)
	return err
}

func (a *Array) deleteMetadata(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return ErrNotOpen
	}
	if err := a.eng.DeleteMetadata(key); err != nil {
		return translateError(err)
	}

	if _, exists := a.meta[key]; exists {
		delete(a.meta, key)
		i := sort.SearchStrings(a.metaKeys, key)
		a.metaKeys = append(a.metaKeys[:i], a.metaKeys[i+1:]...)
	}
	return nil
}

// HasMetadata reports whether key is visible at the session interval.
func (a *Array) HasMetadata(key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return false, ErrNotOpen
	}
	_, ok := a.meta[key]
	return ok, nil
}

// MetadataNum returns the number of visible metadata entries.
func (a *Array) MetadataNum() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return 0, ErrNotOpen
	}
	return len(a.meta), nil
}

// GetMetadata returns the value under key, or a *MetadataKeyError when the
// key is absent or not visible at the session interval.
func (a *Array) GetMetadata(key string) (MetadataValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return MetadataValue{}, ErrNotOpen
	}
	v, ok := a.meta[key]
	if !ok {
		return MetadataValue{}, &MetadataKeyError{Key: key}
	}
	return v, nil
}

// GetMetadataAt returns the index-th visible entry in lexicographic key
// order. Index and key lookups return identical tuples for the same entry.
func (a *Array) GetMetadataAt(index int) (string, MetadataValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return "", MetadataValue{}, ErrNotOpen
	}
	if index < 0 || index >= len(a.metaKeys) {
		return "", MetadataValue{}, fmt.Errorf("metadata index %d out of range [0, %d)", index, len(a.metaKeys))
	}
	key := a.metaKeys[index]
	return key, a.meta[key], nil
}
