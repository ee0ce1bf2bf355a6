package ivfpq

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/internal/f16"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/searcher"
	"github.com/csadorf/raft/view"
)

// SentinelID marks an unfilled result slot.
const SentinelID int64 = -1

// Search finds the k approximate nearest neighbors of each query row.
// Results land row-major in outIDs and outDistances, both at least
// queries.Rows()*k long: ascending distance for L2 metrics, descending
// similarity for inner product, distance ties resolved to the lower id.
// Slots beyond the available candidates hold SentinelID and an extreme
// distance. Searching an unpopulated index yields all-sentinel rows.
//
// Search does not mutate the index, so concurrent calls against the same
// populated index are safe.
func Search(ctx context.Context, h *raft.Handle, params SearchParams, idx *Index, queries view.Matrix[float32], k int, outIDs []int64, outDistances []float32) error {
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return err
	}
	if k <= 0 {
		return raft.ConfigErrorf("ivfpq: k must be positive, got %d", k)
	}
	if idx == nil {
		return raft.ConfigErrorf("ivfpq: nil index")
	}
	if !queries.IsEmpty() && queries.Cols() != idx.dim {
		return &raft.ErrDimensionMismatch{Expected: idx.dim, Actual: queries.Cols()}
	}
	nq := queries.Rows()
	if len(outIDs) < nq*k || len(outDistances) < nq*k {
		return raft.ConfigErrorf("ivfpq: output buffers too small for %d queries with k=%d", nq, k)
	}

	return h.Stream().Run(ctx, func() error {
		return searchOnStream(ctx, h, params, idx, queries, k, outIDs, outDistances)
	})
}

func searchOnStream(ctx context.Context, h *raft.Handle, params SearchParams, idx *Index, queries view.Matrix[float32], k int, outIDs []int64, outDistances []float32) error {
	nq := queries.Rows()

	sentinelDist := float32(math.Inf(1))
	if !idx.metric.IsL2() {
		sentinelDist = float32(math.Inf(-1))
	}

	if !idx.trained || idx.Size() == 0 {
		for i := 0; i < nq*k; i++ {
			outIDs[i] = SentinelID
			outDistances[i] = sentinelDist
		}
		return nil
	}

	nProbes := min(params.NProbes, idx.nLists)
	batch := params.PreferredThreadBlockSize
	if batch == 0 {
		batch = 512
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.Resources().MaxWorkers())
	for q := 0; q < nq; q++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return raft.ExecErrorf("ivfpq search: %v", err)
			}
			sc := newScanner(idx, params, nProbes, batch, k)
			sc.run(queries.Row(q))
			sc.write(outIDs[q*k:(q+1)*k], outDistances[q*k:(q+1)*k], sentinelDist)
			return nil
		})
	}
	return g.Wait()
}

// scanner holds the per-query scratch state: the rotated query, the probe
// selection and the per-cluster lookup table in the configured precision.
type scanner struct {
	idx    *Index
	params SearchParams
	probes int
	batch  int

	qrot     []float32
	lut      []float32
	lutU8    []uint8
	lutScale float32
	codes    []uint32
	cdc      codec
	topk     *searcher.TopK
}

func newScanner(idx *Index, params SearchParams, nProbes, batch, k int) *scanner {
	entries := 1 << idx.pqBits
	sc := &scanner{
		idx:    idx,
		params: params,
		probes: nProbes,
		batch:  batch,
		qrot:   make([]float32, idx.rotDim),
		lut:    make([]float32, idx.pqDim*entries),
		codes:  make([]uint32, idx.pqDim),
		cdc:    newCodec(idx.pqDim, idx.pqBits),
		topk:   searcher.NewTopK(k),
	}
	if params.LutDtype == Uint8 {
		sc.lutU8 = make([]uint8, idx.pqDim*entries)
	}
	return sc
}

func (sc *scanner) run(query []float32) {
	idx := sc.idx
	idx.rotate(sc.qrot, query)

	for _, probe := range sc.selectProbes() {
		l := int(probe.ID)
		if idx.ListSize(l) == 0 {
			continue
		}
		base := sc.fillLUT(l)
		sc.scanList(l, base)
	}
}

// selectProbes ranks all clusters against the rotated query and keeps the
// nProbes best, ties to the lowest cluster index.
func (sc *scanner) selectProbes() []searcher.Candidate {
	idx := sc.idx
	sel := searcher.NewTopK(sc.probes)
	for l := 0; l < idx.nLists; l++ {
		center := idx.centersRot[l*idx.rotDim : (l+1)*idx.rotDim]
		var score float32
		if idx.metric.IsL2() {
			score = math32.SquaredL2(sc.qrot, center)
		} else {
			score = -math32.Dot(sc.qrot, center)
		}
		sel.Push(int64(l), score)
	}
	return sel.Drain()
}

// fillLUT precomputes the per-subspace partial distances from the query to
// every codebook entry of cluster l, and returns the additive base term.
// For L2 the candidate distance is the sum of per-subspace residual
// distances; for inner product it is -(q . center) minus the per-subspace
// query-residual dot products.
func (sc *scanner) fillLUT(l int) float32 {
	idx := sc.idx
	entries := 1 << idx.pqBits
	center := idx.centersRot[l*idx.rotDim : (l+1)*idx.rotDim]
	l2 := idx.metric.IsL2()

	var base float32
	if !l2 {
		base = -math32.Dot(sc.qrot, center)
	}

	for s := 0; s < idx.pqDim; s++ {
		cb := idx.codebookFor(l, s)
		for e := 0; e < entries; e++ {
			entry := cb[e*idx.pqLen : (e+1)*idx.pqLen]
			var v float32
			if l2 {
				for j := 0; j < idx.pqLen; j++ {
					diff := sc.qrot[s*idx.pqLen+j] - center[s*idx.pqLen+j] - entry[j]
					v += diff * diff
				}
			} else {
				for j := 0; j < idx.pqLen; j++ {
					v -= sc.qrot[s*idx.pqLen+j] * entry[j]
				}
			}
			sc.lut[s*entries+e] = v
		}
	}

	switch sc.params.LutDtype {
	case Float16:
		for i, v := range sc.lut {
			sc.lut[i] = f16.Round(v)
		}
	case Uint8:
		base += sc.quantizeLUT()
	}
	return base
}

// quantizeLUT rescales the float table into bytes. The returned offset folds
// the per-entry minimum back into the base term; scale is kept on the
// scanner via lutScale.
func (sc *scanner) quantizeLUT() float32 {
	lo, hi := sc.lut[0], sc.lut[0]
	for _, v := range sc.lut[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := (hi - lo) / 255
	sc.lutScale = scale
	if scale == 0 {
		for i := range sc.lutU8 {
			sc.lutU8[i] = 0
		}
	} else {
		for i, v := range sc.lut {
			q := (v-lo)/scale + 0.5
			if q > 255 {
				q = 255
			}
			sc.lutU8[i] = uint8(q)
		}
	}
	return lo * float32(sc.idx.pqDim)
}

// scanList accumulates the approximate distance for every code in list l and
// offers each candidate to the top-k. The list is walked in fixed-size
// batches per the thread block size hint.
func (sc *scanner) scanList(l int, base float32) {
	idx := sc.idx
	rows, ids := idx.listRows(l)
	rowBytes := idx.RowBytes()
	entries := 1 << idx.pqBits
	n := len(ids)
	halfAcc := sc.params.InternalDistanceDtype == Float16

	for start := 0; start < n; start += sc.batch {
		end := min(start+sc.batch, n)
		for r := start; r < end; r++ {
			code := rows[r*rowBytes : (r+1)*rowBytes]
			sc.cdc.unpack(sc.codes, code)
			var dist float32
			if sc.params.LutDtype == Uint8 {
				var sum uint32
				for s, cs := range sc.codes {
					sum += uint32(sc.lutU8[s*entries+int(cs)])
				}
				dist = base + sc.lutScale*float32(sum)
			} else {
				dist = base
				for s, cs := range sc.codes {
					dist += sc.lut[s*entries+int(cs)]
				}
			}
			if halfAcc {
				dist = f16.Round(dist)
			}
			sc.topk.Push(ids[r], dist)
		}
	}
}

// write drains the top-k into the output row, negating inner-product scores
// back to similarities and filling trailing slots with sentinels.
func (sc *scanner) write(outIDs []int64, outDists []float32, sentinelDist float32) {
	got := sc.topk.Drain()
	l2 := sc.idx.metric.IsL2()
	for i := range outIDs {
		if i < len(got) {
			outIDs[i] = got[i].ID
			if l2 {
				outDists[i] = got[i].Distance
			} else {
				outDists[i] = -got[i].Distance
			}
		} else {
			outIDs[i] = SentinelID
			outDists[i] = sentinelDist
		}
	}
}
