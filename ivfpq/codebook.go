package ivfpq

import (
	"context"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/kmeans"
	"github.com/csadorf/raft/view"
)

// trainCodebooks clusters the first-level residuals into 2^pqBits entries,
// either once per subspace slice or once per first-level cluster. rotated is
// [n, rotDim], assignments holds each row's cluster.
func (idx *Index) trainCodebooks(ctx context.Context, params IndexParams, rotated view.Matrix[float32], assignments []int) error {
	h := idx.h
	n := rotated.Rows()

	residuals, err := h.AllocFloat32(n * idx.rotDim)
	if err != nil {
		return err
	}
	defer h.FreeFloat32(residuals)

	for i := 0; i < n; i++ {
		center := idx.centersRot[assignments[i]*idx.rotDim : (assignments[i]+1)*idx.rotDim]
		math32.SubInto(residuals[i*idx.rotDim:(i+1)*idx.rotDim], rotated.Row(i), center)
	}

	entries := 1 << idx.pqBits
	cfg := kmeans.Config{
		K:      entries,
		NIters: params.KMeansNIters,
		Metric: idx.metric,
	}

	switch idx.codebookKind {
	case PerSubspace:
		for s := 0; s < idx.pqDim; s++ {
			sub, err := view.NewMatrixStrided(residuals[s*idx.pqLen:], n, idx.pqLen, idx.rotDim, view.Unified)
			if err != nil {
				return err
			}
			cfg.Seed = params.Seed + int64(s) + 1
			cents, err := kmeans.Train(ctx, h, cfg, sub)
			if err != nil {
				return err
			}
			copy(idx.codebookFor(0, s), cents)
			h.FreeFloat32(cents)
		}

	case PerCluster:
		scratch, err := h.AllocFloat32(n * idx.rotDim)
		if err != nil {
			return err
		}
		defer h.FreeFloat32(scratch)

		for l := 0; l < idx.nLists; l++ {
			rows := 0
			for i := 0; i < n; i++ {
				if assignments[i] == l {
					copy(scratch[rows*idx.rotDim:(rows+1)*idx.rotDim], residuals[i*idx.rotDim:(i+1)*idx.rotDim])
					rows++
				}
			}
			if rows == 0 {
				// Nothing to train on; the codebook stays zeroed and the
				// list encodes everything to entry 0 until a rebuild.
				continue
			}
			// A residual row splits into pqDim contiguous pqLen-tuples, so
			// the gathered block doubles as the trainset.
			sub, err := view.NewMatrix(scratch[:rows*idx.rotDim], rows*idx.pqDim, idx.pqLen, view.Unified)
			if err != nil {
				return err
			}
			cfg.Seed = params.Seed + int64(l) + 1
			cents, err := kmeans.Train(ctx, h, cfg, sub)
			if err != nil {
				return err
			}
			copy(idx.codebookFor(l, 0), cents)
			h.FreeFloat32(cents)
		}

	default:
		return raft.ConfigErrorf("ivfpq: unknown codebook kind %d", idx.codebookKind)
	}
	return nil
}

// encode quantizes one rotated vector against the codebooks of its cluster.
// codes must hold pqDim entries. Ties resolve to the lowest codebook entry.
func (idx *Index) encode(codes []uint32, rotated []float32, cluster int) {
	entries := 1 << idx.pqBits
	center := idx.centersRot[cluster*idx.rotDim : (cluster+1)*idx.rotDim]

	for s := 0; s < idx.pqDim; s++ {
		cb := idx.codebookFor(cluster, s)
		best, bestDist := 0, float32(0)
		for e := 0; e < entries; e++ {
			var d float32
			for j := 0; j < idx.pqLen; j++ {
				r := rotated[s*idx.pqLen+j] - center[s*idx.pqLen+j]
				diff := r - cb[e*idx.pqLen+j]
				d += diff * diff
			}
			if e == 0 || d < bestDist {
				best, bestDist = e, d
			}
		}
		codes[s] = uint32(best)
	}
}

// decode reconstructs the rotated-space approximation of a stored code:
// cluster center plus the looked-up residual entries.
func (idx *Index) decode(out []float32, codes []uint32, cluster int) {
	center := idx.centersRot[cluster*idx.rotDim : (cluster+1)*idx.rotDim]
	copy(out, center)
	for s := 0; s < idx.pqDim; s++ {
		cb := idx.codebookFor(cluster, s)
		entry := cb[int(codes[s])*idx.pqLen : (int(codes[s])+1)*idx.pqLen]
		math32.AddInPlace(out[s*idx.pqLen:(s+1)*idx.pqLen], entry)
	}
}
