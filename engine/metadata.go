package engine

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// MetadataRecord is one write to an array metadata key: either a value or
// a deletion tombstone. Records are immutable once flushed; the visible
// state of a key at timestamp T is its latest record with Timestamp <= T.
type MetadataRecord struct {
	Key       string   `json:"key"`
	Type      Datatype `json:"type,omitempty"`
	ValueNum  uint32   `json:"value_num,omitempty"`
	Value     []byte   `json:"value,omitempty"`
	Timestamp uint64   `json:"timestamp"`
	Deleted   bool     `json:"deleted,omitempty"`
}

func metadataFilePath(array string, ts uint64, suffix string) string {
	return path.Join(array, metaDir, fmt.Sprintf("%020d-%s.meta", ts, suffix))
}

// PutMetadata stages a metadata value on the handle. The record becomes
// durable when the array is closed. Write mode only.
func (a *Array) PutMetadata(key string, typ Datatype, valueNum uint32, value []byte) error {
	if key == "" {
		return fmt.Errorf("engine: empty metadata key")
	}
	if !typ.Valid() {
		return fmt.Errorf("engine: metadata %q has invalid type", key)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.mode != ModeWrite {
		return ErrReadOnly
	}

	a.pendingMeta = append(a.pendingMeta, MetadataRecord{
		Key:       key,
		Type:      typ,
		ValueNum:  valueNum,
		Value:     append([]byte(nil), value...),
		Timestamp: a.interval.End,
	})
	return nil
}

// DeleteMetadata stages a deletion tombstone for the key. Write mode only.
func (a *Array) DeleteMetadata(key string) error {
	if key == "" {
		return fmt.Errorf("engine: empty metadata key")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.mode != ModeWrite {
		return ErrReadOnly
	}

	a.pendingMeta = append(a.pendingMeta, MetadataRecord{
		Key:       key,
		Timestamp: a.interval.End,
		Deleted:   true,
	})
	return nil
}

// MetadataRecords returns all committed metadata records with a timestamp
// inside the open interval end, ordered by (key, timestamp, file). Pending
// records staged on this handle are not included.
func (a *Array) MetadataRecords(ctx context.Context) ([]MetadataRecord, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	names, err := a.fs.List(ctx, path.Join(a.arrayPath, metaDir)+"/")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	end := a.Interval().End

	var records []MetadataRecord
	for _, name := range names {
		if !strings.HasSuffix(name, ".meta") {
			continue
		}
		data, err := vfs.ReadAll(ctx, a.fs, name)
		if err != nil {
			return nil, fmt.Errorf("read metadata file %s: %w", name, err)
		}
		var recs []MetadataRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("%w: metadata file %s: %v", ErrCorrupt, name, err)
		}
		for _, rec := range recs {
			if rec.Timestamp <= end {
				records = append(records, rec)
			}
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Key != records[j].Key {
			return records[i].Key < records[j].Key
		}
		return records[i].Timestamp < records[j].Timestamp
	})
	return records, nil
}

// flushMetadata persists staged records as one immutable metadata file.
func (a *Array) flushMetadata(ctx context.Context, pending []MetadataRecord) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}

	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	name := metadataFilePath(a.arrayPath, a.Interval().End, suffix)
	return a.fs.Put(ctx, name, data)
}
