package soma

import (
	"context"
	"time"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

// NNZ returns the number of non-empty cells visible in the session's
// timestamp interval.
//
// When every visible fragment lies fully inside the interval and no
// deduplication can apply, the count is the sum of the fragment cell
// counts. Otherwise the dimensions are drained through a read query, so
// the result always equals the row total of a full batch drain over the
// same interval. Consolidation and vacuum never change it.
func (a *Array) NNZ(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, fast, err := a.nnz(ctx)
	a.metrics.RecordNNZ(time.Since(start), err)
	a.logger.LogNNZ(ctx, n, fast, err)
	return n, err
}

func (a *Array) nnz(ctx context.Context) (uint64, bool, error) {
	eng, err := a.handle()
	if err != nil {
		return 0, false, err
	}

	fragments := eng.Fragments()
	if len(fragments) == 0 {
		return 0, true, nil
	}

	// The cell counts can only be summed when no fragment straddles the
	// interval boundary: a straddling fragment contributes a subset of its
	// cells. With duplicates disallowed, overlapping coordinate extents
	// additionally force a dedup scan.
	contained := true
	for _, f := range fragments {
		if !f.Timestamps.Within(eng.Interval()) {
			contained = false
			break
		}
	}
	if contained && (eng.Schema().AllowDuplicates || !anyDomainOverlap(fragments)) {
		var n uint64
		for _, f := range fragments {
			n += f.CellCount
		}
		return n, true, nil
	}

	n, err := a.scanNNZ(ctx, eng)
	return n, false, err
}

func anyDomainOverlap(fragments []engine.FragmentInfo) bool {
	for i := range fragments {
		for j := i + 1; j < len(fragments); j++ {
			if fragments[i].OverlapsDomain(fragments[j]) {
				return true
			}
		}
	}
	return false
}

// scanNNZ counts cells by draining a dimension-only read query. Write
// sessions scan through a separate read handle at the same interval.
func (a *Array) scanNNZ(ctx context.Context, eng *engine.Array) (uint64, error) {
	read := eng
	if a.Mode() != ModeRead {
		r, err := engine.OpenArray(ctx, a.ectx, a.uri, engine.ModeRead, eng.Interval())
		if err != nil {
			return 0, translateError(err)
		}
		defer r.Close(ctx)
		read = r
	}

	dim := read.Schema().Dimensions[0].Name
	q := read.NewQuery()
	defer q.Close()
	if err := q.SetColumns(dim); err != nil {
		return 0, err
	}
	q.SetBatchCells(a.batchSize)

	var n uint64
	for {
		status, err := q.Submit(ctx)
		if err != nil {
			return 0, translateError(err)
		}
		n += q.ResultBufferElements()[dim].Cells
		if status == engine.StatusComplete {
			return n, nil
		}
	}
}
