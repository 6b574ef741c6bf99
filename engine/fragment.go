package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// TimestampRange is an inclusive range of write timestamps.
type TimestampRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r TimestampRange) Contains(t uint64) bool {
	return r.Start <= t && t <= r.End
}

// Overlaps reports whether the ranges intersect.
func (r TimestampRange) Overlaps(o TimestampRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Within reports whether r lies fully inside o.
func (r TimestampRange) Within(o TimestampRange) bool {
	return o.Start <= r.Start && r.End <= o.End
}

// CoordRange is an inclusive range of coordinates on one dimension.
type CoordRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Overlaps reports whether the ranges intersect.
func (r CoordRange) Overlaps(o CoordRange) bool {
	return r.Min <= o.Max && o.Min <= r.Max
}

// FragmentID names a fragment. The textual form embeds the timestamp range
// for human inspection; all semantics come from the commit marker.
type FragmentID string

func newFragmentID(ts TimestampRange) FragmentID {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return FragmentID(fmt.Sprintf("__%d_%d_%s", ts.Start, ts.End, suffix))
}

// FragmentInfo describes one committed fragment. It is the content of the
// fragment's .wrt commit marker.
type FragmentInfo struct {
	ID         FragmentID     `json:"id"`
	Timestamps TimestampRange `json:"timestamps"`
	CellCount  uint64         `json:"cell_count"`
	Domain     []CoordRange   `json:"domain"`
	// Consolidated marks fragments produced by consolidation. Their
	// timestamp range supersedes older fragments it covers.
	Consolidated bool `json:"consolidated,omitempty"`
	// CreatedAt orders fragments by commit time (wall clock nanos). It
	// breaks ties between cells with equal write timestamps and keeps
	// writes made after a consolidation from being superseded by it.
	CreatedAt int64 `json:"created_at"`
	// Size is the size of data.bin in bytes.
	Size uint64 `json:"size"`
}

// OverlapsDomain reports whether the coordinate extents of f and g
// intersect on every dimension.
func (f FragmentInfo) OverlapsDomain(g FragmentInfo) bool {
	if len(f.Domain) != len(g.Domain) {
		return false
	}
	for i, r := range f.Domain {
		if !r.Overlaps(g.Domain[i]) {
			return false
		}
	}
	return true
}

const (
	schemaDir    = "__schema"
	fragmentsDir = "__fragments"
	commitsDir   = "__commits"
	metaDir      = "__meta"

	commitExt = ".wrt"
	vacuumExt = ".vac"

	// tsColumn is the hidden column holding per-cell write timestamps.
	tsColumn = "__ts"
)

func schemaPath(array string) string {
	return path.Join(array, schemaDir, "schema.json")
}

func fragmentDataPath(array string, id FragmentID) string {
	return path.Join(array, fragmentsDir, string(id), "data.bin")
}

func commitMarkerPath(array string, id FragmentID) string {
	return path.Join(array, commitsDir, string(id)+commitExt)
}

func vacuumListPath(array string, id FragmentID) string {
	return path.Join(array, commitsDir, string(id)+vacuumExt)
}

// fragmentFooter is the JSON footer at the tail of data.bin. The file ends
// with a fixed trailer: [footer length uint32][footer checksum uint64].
type fragmentFooter struct {
	Version     int             `json:"version"`
	CellCount   uint64          `json:"cell_count"`
	Compression CompressionType `json:"compression"`
	Columns     []columnBlock   `json:"columns"`
}

type columnBlock struct {
	Name    string    `json:"name"`
	Type    Datatype  `json:"type"`
	Data    blockRef  `json:"data"`
	Offsets *blockRef `json:"offsets,omitempty"`
}

type blockRef struct {
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
	Checksum uint64 `json:"checksum"`
}

const (
	fragmentFormatVersion = 1
	footerTrailerSize     = 4 + 8
)

// writeFragment persists column data as a new fragment and commits it. The
// data file is written before the commit marker, so a failure in between
// leaves an invisible orphan, never a committed fragment without data.
//
// cols must hold every schema column; tsCol carries the per-cell write
// timestamps and must have the same length. A nil span means a regular
// write whose timestamp range is derived from the cells; consolidation
// passes the union of the source ranges, which marks the fragment
// consolidated and must cover every cell timestamp.
func writeFragment(ctx context.Context, fs vfs.FileSystem, array string, schema *Schema, cols map[string]*ColumnBuffer, tsCol *ColumnBuffer, span *TimestampRange) (*FragmentInfo, error) {
	cells := tsCol.Len()
	if cells == 0 {
		return nil, fmt.Errorf("engine: write with zero cells")
	}

	ordered := make([]struct {
		name string
		buf  *ColumnBuffer
	}, 0, len(cols)+1)
	for _, name := range schema.Columns() {
		buf, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("engine: column %q missing from write", name)
		}
		want, _ := schema.ColumnType(name)
		if buf.Type() != want {
			return nil, fmt.Errorf("engine: column %q has type %s, schema wants %s", name, buf.Type(), want)
		}
		if buf.Len() != cells {
			return nil, fmt.Errorf("engine: column %q has %d cells, expected %d", name, buf.Len(), cells)
		}
		ordered = append(ordered, struct {
			name string
			buf  *ColumnBuffer
		}{name, buf})
	}
	ordered = append(ordered, struct {
		name string
		buf  *ColumnBuffer
	}{tsColumn, tsCol})

	// Encode blocks.
	var body []byte
	footer := fragmentFooter{
		Version:     fragmentFormatVersion,
		CellCount:   uint64(cells),
		Compression: schema.Compression,
	}
	appendBlock := func(raw []byte) (blockRef, error) {
		block, err := compressBlock(raw, schema.Compression)
		if err != nil {
			return blockRef{}, err
		}
		ref := blockRef{
			Offset:   uint64(len(body)),
			Length:   uint64(len(block)),
			Checksum: checksum64(block),
		}
		body = append(body, block...)
		return ref, nil
	}

	for _, col := range ordered {
		dataRef, err := appendBlock(col.buf.Bytes())
		if err != nil {
			return nil, err
		}
		cb := columnBlock{Name: col.name, Type: col.buf.Type(), Data: dataRef}
		if offsets := col.buf.CellOffsets(); offsets != nil {
			raw := make([]byte, 8*len(offsets))
			for i, off := range offsets {
				binary.LittleEndian.PutUint64(raw[i*8:], off)
			}
			offRef, err := appendBlock(raw)
			if err != nil {
				return nil, err
			}
			cb.Offsets = &offRef
		}
		footer.Columns = append(footer.Columns, cb)
	}

	footerJSON, err := json.Marshal(&footer)
	if err != nil {
		return nil, err
	}
	body = append(body, footerJSON...)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(footerJSON)))
	body = binary.LittleEndian.AppendUint64(body, checksum64(footerJSON))

	// Derive the fragment extent from the data.
	tsValues := tsCol.Uint64s()
	tsRange := TimestampRange{Start: tsValues[0], End: tsValues[0]}
	for _, t := range tsValues[1:] {
		if t < tsRange.Start {
			tsRange.Start = t
		}
		if t > tsRange.End {
			tsRange.End = t
		}
	}
	if span != nil {
		if !tsRange.Within(*span) {
			return nil, fmt.Errorf("engine: cell timestamps %v escape consolidation span %v", tsRange, *span)
		}
		tsRange = *span
	}

	domain := make([]CoordRange, len(schema.Dimensions))
	for i, dim := range schema.Dimensions {
		coords := cols[dim.Name].Int64s()
		r := CoordRange{Min: coords[0], Max: coords[0]}
		for _, c := range coords[1:] {
			if c < r.Min {
				r.Min = c
			}
			if c > r.Max {
				r.Max = c
			}
		}
		domain[i] = r
	}

	info := &FragmentInfo{
		ID:           newFragmentID(tsRange),
		Timestamps:   tsRange,
		CellCount:    uint64(cells),
		Domain:       domain,
		Consolidated: span != nil,
		CreatedAt:    time.Now().UnixNano(),
		Size:         uint64(len(body)),
	}

	if err := fs.Put(ctx, fragmentDataPath(array, info.ID), body); err != nil {
		return nil, fmt.Errorf("write fragment data: %w", err)
	}

	marker, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	if err := fs.Put(ctx, commitMarkerPath(array, info.ID), marker); err != nil {
		return nil, fmt.Errorf("commit fragment: %w", err)
	}

	return info, nil
}

// readFragmentColumns fetches and decodes the named columns of a fragment.
// Block reads are ranged, so unrequested columns are never transferred.
func readFragmentColumns(ctx context.Context, fs vfs.FileSystem, array string, id FragmentID, names []string) (map[string]*ColumnBuffer, error) {
	f, err := fs.Open(ctx, fragmentDataPath(array, id))
	if err != nil {
		return nil, fmt.Errorf("open fragment %s: %w", id, err)
	}
	defer f.Close()

	footer, err := readFooter(f)
	if err != nil {
		return nil, fmt.Errorf("fragment %s: %w", id, err)
	}

	blocks := make(map[string]*columnBlock, len(footer.Columns))
	for i := range footer.Columns {
		blocks[footer.Columns[i].Name] = &footer.Columns[i]
	}

	readBlock := func(ref blockRef) ([]byte, error) {
		raw := make([]byte, ref.Length)
		if _, err := f.ReadAt(raw, int64(ref.Offset)); err != nil {
			return nil, err
		}
		if checksum64(raw) != ref.Checksum {
			return nil, fmt.Errorf("%w: block checksum mismatch", ErrCorrupt)
		}
		return decompressBlock(raw, footer.Compression)
	}

	out := make(map[string]*ColumnBuffer, len(names))
	for _, name := range names {
		cb, ok := blocks[name]
		if !ok {
			return nil, fmt.Errorf("%w: column %q not in fragment %s", ErrCorrupt, name, id)
		}

		data, err := readBlock(cb.Data)
		if err != nil {
			return nil, fmt.Errorf("fragment %s column %q: %w", id, name, err)
		}

		var offsets []uint64
		if cb.Offsets != nil {
			raw, err := readBlock(*cb.Offsets)
			if err != nil {
				return nil, fmt.Errorf("fragment %s column %q offsets: %w", id, name, err)
			}
			if len(raw)%8 != 0 {
				return nil, fmt.Errorf("%w: offsets block truncated", ErrCorrupt)
			}
			offsets = make([]uint64, len(raw)/8)
			for i := range offsets {
				offsets[i] = binary.LittleEndian.Uint64(raw[i*8:])
			}
		}

		buf, err := newColumnBufferFromParts(cb.Type, data, offsets)
		if err != nil {
			return nil, fmt.Errorf("fragment %s column %q: %w", id, name, err)
		}
		if uint64(buf.Len()) != footer.CellCount {
			return nil, fmt.Errorf("%w: column %q has %d cells, footer says %d", ErrCorrupt, name, buf.Len(), footer.CellCount)
		}
		out[name] = buf
	}
	return out, nil
}

func readFooter(f vfs.File) (*fragmentFooter, error) {
	size := f.Size()
	if size < footerTrailerSize {
		return nil, fmt.Errorf("%w: file smaller than trailer", ErrCorrupt)
	}

	trailer := make([]byte, footerTrailerSize)
	if _, err := f.ReadAt(trailer, size-footerTrailerSize); err != nil {
		return nil, err
	}
	footerLen := binary.LittleEndian.Uint32(trailer[0:])
	footerSum := binary.LittleEndian.Uint64(trailer[4:])

	if int64(footerLen) > size-footerTrailerSize {
		return nil, fmt.Errorf("%w: footer length out of bounds", ErrCorrupt)
	}

	footerJSON := make([]byte, footerLen)
	if _, err := f.ReadAt(footerJSON, size-footerTrailerSize-int64(footerLen)); err != nil {
		return nil, err
	}
	if checksum64(footerJSON) != footerSum {
		return nil, fmt.Errorf("%w: footer checksum mismatch", ErrCorrupt)
	}

	var footer fragmentFooter
	if err := json.Unmarshal(footerJSON, &footer); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrCorrupt, err)
	}
	if footer.Version != fragmentFormatVersion {
		return nil, fmt.Errorf("unsupported fragment format version %d", footer.Version)
	}
	return &footer, nil
}

// vacuumList records which source fragments a consolidated fragment
// replaced, so that Vacuum knows what to remove.
type vacuumList struct {
	ID      FragmentID   `json:"id"`
	Sources []FragmentID `json:"sources"`
}

func writeVacuumList(ctx context.Context, fs vfs.FileSystem, array string, list *vacuumList) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return fs.Put(ctx, vacuumListPath(array, list.ID), data)
}

// listFragments returns all committed fragments of the array, excluding
// superseded ones, ordered by timestamp range and commit time.
//
// A fragment is superseded when a consolidated fragment committed later
// covers its whole timestamp range. Sources of a consolidation therefore
// drop out of listings the moment the consolidated fragment commits, with
// no window where both sides are visible.
func listFragments(ctx context.Context, fs vfs.FileSystem, array string) ([]FragmentInfo, error) {
	names, err := fs.List(ctx, path.Join(array, commitsDir)+"/")
	if err != nil {
		return nil, err
	}

	var infos []FragmentInfo
	for _, name := range names {
		if !strings.HasSuffix(name, commitExt) {
			continue
		}
		data, err := vfs.ReadAll(ctx, fs, name)
		if err != nil {
			return nil, fmt.Errorf("read commit marker %s: %w", name, err)
		}
		var info FragmentInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("%w: commit marker %s: %v", ErrCorrupt, name, err)
		}
		infos = append(infos, info)
	}

	visible := infos[:0]
	for _, info := range infos {
		if !superseded(info, infos) {
			visible = append(visible, info)
		}
	}

	sort.Slice(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if a.Timestamps.Start != b.Timestamps.Start {
			return a.Timestamps.Start < b.Timestamps.Start
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return visible, nil
}

func superseded(f FragmentInfo, all []FragmentInfo) bool {
	for _, g := range all {
		if g.ID == f.ID || !g.Consolidated {
			continue
		}
		if f.Timestamps.Within(g.Timestamps) && commitOrder(f, g) < 0 {
			return true
		}
	}
	return false
}

// commitOrder totally orders fragments by commit time. Consolidated
// fragments sort after regular ones on a clock tie, so a coarse clock can
// never make a consolidation and one of its sources supersede each other.
func commitOrder(f, g FragmentInfo) int {
	if f.CreatedAt != g.CreatedAt {
		if f.CreatedAt < g.CreatedAt {
			return -1
		}
		return 1
	}
	if f.Consolidated != g.Consolidated {
		if !f.Consolidated {
			return -1
		}
		return 1
	}
	return strings.Compare(string(f.ID), string(g.ID))
}

// deleteFragment removes a fragment's data and commit marker. Used by
// Vacuum; marker first so readers stop listing it before data disappears.
func deleteFragment(ctx context.Context, fs vfs.FileSystem, array string, id FragmentID) error {
	if err := fs.Delete(ctx, commitMarkerPath(array, id)); err != nil {
		return err
	}
	return fs.Delete(ctx, fragmentDataPath(array, id))
}
