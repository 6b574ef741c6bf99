package engine

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// Consolidate merges all committed fragments of the array into one
// consolidated fragment spanning the union of their timestamp ranges.
// Per-cell write timestamps are preserved, so reads at any interval keep
// observing the cells that were visible there. On arrays that forbid
// duplicates, cells shadowed by a newer write at the same coordinates are
// dropped during the merge; time travel between the shadowed write and the
// newer one then observes the merged content, not the original fragment
// boundaries.
//
// Source fragments stop being listed the moment the merge commits. Their
// data stays on storage until Vacuum.
func Consolidate(ctx context.Context, ec *Context, uri string) error {
	resources := ec.Resources()
	if err := resources.AcquireMaintenance(ctx); err != nil {
		return err
	}
	defer resources.ReleaseMaintenance()

	a, err := OpenArray(ctx, ec, uri, ModeRead, TimestampRange{Start: 0, End: math.MaxUint64})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	fragments := a.Fragments()
	if len(fragments) < 2 {
		return nil
	}

	schema := a.schema
	names := append(schema.Columns(), tsColumn)

	loaded := make([]map[string]*ColumnBuffer, len(fragments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fragmentLoadParallelism)
	for i, f := range fragments {
		g.Go(func() error {
			cols, err := readFragmentColumns(gctx, a.fs, a.arrayPath, f.ID, names)
			if err != nil {
				return fmt.Errorf("load fragment %s: %w", f.ID, err)
			}
			loaded[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	span := TimestampRange{Start: math.MaxUint64, End: 0}
	var refs []cellRef
	dims := make([][][]int64, len(fragments))
	sources := make([]FragmentID, len(fragments))
	var ioBytes int64
	for i, f := range fragments {
		if f.Timestamps.Start < span.Start {
			span.Start = f.Timestamps.Start
		}
		if f.Timestamps.End > span.End {
			span.End = f.Timestamps.End
		}
		sources[i] = f.ID
		ioBytes += int64(f.Size)

		for row, ts := range loaded[i][tsColumn].Uint64s() {
			refs = append(refs, cellRef{frag: i, row: row, ts: ts})
		}
		fragDims := make([][]int64, len(schema.Dimensions))
		for d, dim := range schema.Dimensions {
			fragDims[d] = loaded[i][dim.Name].Int64s()
		}
		dims[i] = fragDims
	}

	if !schema.AllowDuplicates {
		refs = dedupCells(refs, fragments, dims)
	}
	sortCells(refs, fragments, dims, LayoutRowMajor)

	merged := make(map[string]*ColumnBuffer, len(names))
	tsCol := NewColumnBuffer(TypeUint64)
	var memTotal int64
	for _, name := range schema.Columns() {
		typ, _ := schema.ColumnType(name)
		buf := NewColumnBuffer(typ)
		for _, ref := range refs {
			buf.appendCell(loaded[ref.frag][name], ref.row)
		}
		merged[name] = buf
		memTotal += buf.MemSize()
	}
	for _, ref := range refs {
		tsCol.appendCell(loaded[ref.frag][tsColumn], ref.row)
	}
	memTotal += tsCol.MemSize()

	if err := resources.AcquireMemory(ctx, memTotal); err != nil {
		return err
	}
	defer resources.ReleaseMemory(memTotal)
	if err := resources.AcquireIO(ctx, ioBytes); err != nil {
		return err
	}

	info, err := writeFragment(ctx, a.fs, a.arrayPath, schema, merged, tsCol, &span)
	if err != nil {
		return err
	}
	return writeVacuumList(ctx, a.fs, a.arrayPath, &vacuumList{ID: info.ID, Sources: sources})
}

// Vacuum removes the data of fragments replaced by earlier consolidations.
// Readers that pinned a fragment listing before the consolidation committed
// may still reference the removed data, so vacuum when no such readers
// remain.
func Vacuum(ctx context.Context, ec *Context, uri string) error {
	resources := ec.Resources()
	if err := resources.AcquireMaintenance(ctx); err != nil {
		return err
	}
	defer resources.ReleaseMaintenance()

	a, err := OpenArray(ctx, ec, uri, ModeRead, TimestampRange{Start: 0, End: math.MaxUint64})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	lists, err := listVacuumLists(ctx, a.fs, a.arrayPath)
	if err != nil {
		return err
	}
	for _, list := range lists {
		for _, id := range list.Sources {
			if err := deleteFragment(ctx, a.fs, a.arrayPath, id); err != nil {
				return fmt.Errorf("vacuum fragment %s: %w", id, err)
			}
		}
		// The list goes last so an interrupted vacuum resumes.
		if err := a.fs.Delete(ctx, vacuumListPath(a.arrayPath, list.ID)); err != nil {
			return err
		}
	}
	return nil
}

func listVacuumLists(ctx context.Context, fs vfs.FileSystem, array string) ([]vacuumList, error) {
	names, err := fs.List(ctx, path.Join(array, commitsDir)+"/")
	if err != nil {
		return nil, err
	}
	var lists []vacuumList
	for _, name := range names {
		if !strings.HasSuffix(name, vacuumExt) {
			continue
		}
		data, err := vfs.ReadAll(ctx, fs, name)
		if err != nil {
			return nil, fmt.Errorf("read vacuum list %s: %w", name, err)
		}
		var list vacuumList
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: vacuum list %s: %v", ErrCorrupt, name, err)
		}
		lists = append(lists, list)
	}
	return lists, nil
}
