// Package ivfpq implements an IVF-PQ approximate nearest-neighbor index:
// first-level k-means clustering into inverted lists combined with product
// quantization of the residuals. Vectors are compressed to
// pqDim*pqBits/8 bytes each, and queries scan only the lists of their
// nearest clusters via precomputed lookup tables.
package ivfpq

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/view"
)

// maxIndexedRows bounds the total row count so list bookkeeping fits the
// unsigned 32-bit range used throughout.
const maxIndexedRows = math.MaxUint32

// Index holds the trained quantizers and the compressed dataset. Immutable
// configuration (metric, codebook kind, bit width, dimensions) is fixed at
// construction; the population (lists, codes, id mapping) changes through
// Build and Extend. An Index must not be copied; share the pointer.
type Index struct {
	h *raft.Handle

	metric       distance.Metric
	codebookKind CodebookKind
	dim          int
	pqBits       int
	pqDim        int
	nLists       int

	// Derived at construction.
	pqLen  int // sub-vector length, ceil(dim/pqDim)
	rotDim int // pqLen*pqDim >= dim
	dimExt int // round_up(dim+1, 8), slot dim holds the center norm

	trained bool

	// rotation is [rotDim, dim] row-major, orthonormal columns. Identity
	// when rotDim == dim and no rotation was forced.
	rotation []float32
	// centers is [nLists, dimExt]: original-space centroids with the
	// squared norm cached at column dim. centersRot is [nLists, rotDim].
	centers    []float32
	centersRot []float32
	// codebook is flat [pqDim, 2^pqBits, pqLen] (per subspace) or
	// [nLists, 2^pqBits, pqLen] (per cluster).
	codebook []float32

	// listOffsets is the [nLists+1] prefix sum partitioning pqDataset and
	// indices; listOffsets[nLists] is the total row count.
	listOffsets []int64
	// pqDataset is flat [size, pqDim*pqBits/8] bit-packed codes.
	pqDataset []byte
	// indices maps each code row to its original dataset id.
	indices []int64

	nonempty *roaring.Bitmap
}

// NewIndex constructs an empty, untrained index bound to h. pqDim == 0
// derives the sub-vector count from dim via CalculatePQDim. All fixed-shape
// arrays are allocated through the handle's pool; the variable-length
// dataset starts at zero rows.
func NewIndex(h *raft.Handle, metric distance.Metric, kind CodebookKind, nLists, dim, pqBits, pqDim int) (*Index, error) {
	if dim <= 0 {
		return nil, raft.ConfigErrorf("ivfpq: dim must be positive, got %d", dim)
	}
	if nLists <= 0 {
		return nil, raft.ConfigErrorf("ivfpq: n_lists must be positive, got %d", nLists)
	}
	if pqDim == 0 {
		pqDim = CalculatePQDim(dim)
	}

	idx := &Index{
		h:            h,
		metric:       metric,
		codebookKind: kind,
		dim:          dim,
		pqBits:       pqBits,
		pqDim:        pqDim,
		nLists:       nLists,
		pqLen:        (dim + pqDim - 1) / pqDim,
		nonempty:     roaring.New(),
	}
	idx.rotDim = idx.pqLen * idx.pqDim
	idx.dimExt = roundUp(dim+1, 8)

	if err := idx.checkConsistency(); err != nil {
		return nil, err
	}

	var err error
	if idx.rotation, err = h.AllocFloat32(idx.rotDim * dim); err != nil {
		return nil, err
	}
	if idx.centers, err = h.AllocFloat32(nLists * idx.dimExt); err != nil {
		return nil, err
	}
	if idx.centersRot, err = h.AllocFloat32(nLists * idx.rotDim); err != nil {
		return nil, err
	}
	if idx.codebook, err = h.AllocFloat32(idx.codebookLen()); err != nil {
		return nil, err
	}
	if idx.listOffsets, err = h.AllocInt64(nLists + 1); err != nil {
		return nil, err
	}
	return idx, nil
}

func roundUp(x, multiple int) int {
	return (x + multiple - 1) / multiple * multiple
}

func (idx *Index) codebookLen() int {
	rows := idx.pqDim
	if idx.codebookKind == PerCluster {
		rows = idx.nLists
	}
	return rows * (1 << idx.pqBits) * idx.pqLen
}

// codebookFor returns the [2^pqBits, pqLen] slice used to encode subspace s
// of a vector assigned to cluster l.
func (idx *Index) codebookFor(l, s int) []float32 {
	span := (1 << idx.pqBits) * idx.pqLen
	if idx.codebookKind == PerCluster {
		return idx.codebook[l*span : (l+1)*span]
	}
	return idx.codebook[s*span : (s+1)*span]
}

// checkConsistency validates the structural invariants. It runs after every
// construction, allocation and mutation; a failure means the index must be
// discarded.
func (idx *Index) checkConsistency() error {
	if idx.pqBits < 4 || idx.pqBits > 8 {
		return raft.ConfigErrorf("ivfpq: pq_bits must be in [4, 8], got %d", idx.pqBits)
	}
	if idx.pqDim <= 0 {
		return raft.ConfigErrorf("ivfpq: pq_dim must be positive, got %d", idx.pqDim)
	}
	if idx.pqDim*idx.pqBits%8 != 0 {
		return raft.ConfigErrorf("ivfpq: pq_dim*pq_bits must be a multiple of 8, got %d*%d=%d",
			idx.pqDim, idx.pqBits, idx.pqDim*idx.pqBits)
	}
	if idx.listOffsets != nil {
		if len(idx.listOffsets) != idx.nLists+1 {
			return raft.ConfigErrorf("ivfpq: list_offsets length %d, want %d", len(idx.listOffsets), idx.nLists+1)
		}
		for l := 0; l < idx.nLists; l++ {
			if idx.listOffsets[l] > idx.listOffsets[l+1] {
				return raft.ExecErrorf("ivfpq: list_offsets not monotone at %d: %d > %d",
					l, idx.listOffsets[l], idx.listOffsets[l+1])
			}
		}
		size := int(idx.listOffsets[idx.nLists])
		if len(idx.indices) != size {
			return raft.ExecErrorf("ivfpq: indices length %d, want %d", len(idx.indices), size)
		}
		if len(idx.pqDataset) != size*idx.RowBytes() {
			return raft.ExecErrorf("ivfpq: pq_dataset length %d, want %d", len(idx.pqDataset), size*idx.RowBytes())
		}
	}
	return nil
}

// allocate reshapes the dataset and id arrays to hold exactly size rows,
// discarding prior contents. Offsets are the caller's responsibility.
func (idx *Index) allocate(size int) error {
	if size < 0 || size > maxIndexedRows {
		return raft.ConfigErrorf("ivfpq: row count %d outside the indexable range", size)
	}
	if idx.pqDataset != nil {
		idx.h.FreeBytes(idx.pqDataset)
		idx.h.FreeInt64(idx.indices)
		idx.pqDataset, idx.indices = nil, nil
	}
	var err error
	if idx.pqDataset, err = idx.h.AllocBytes(size * idx.RowBytes()); err != nil {
		return err
	}
	if idx.indices, err = idx.h.AllocInt64(size); err != nil {
		return err
	}
	return nil
}

// Close releases the index's pool reservations. The index is unusable
// afterwards.
func (idx *Index) Close() {
	idx.h.FreeFloat32(idx.rotation)
	idx.h.FreeFloat32(idx.centers)
	idx.h.FreeFloat32(idx.centersRot)
	idx.h.FreeFloat32(idx.codebook)
	idx.h.FreeInt64(idx.listOffsets)
	if idx.pqDataset != nil {
		idx.h.FreeBytes(idx.pqDataset)
		idx.h.FreeInt64(idx.indices)
	}
	idx.rotation, idx.centers, idx.centersRot, idx.codebook = nil, nil, nil, nil
	idx.listOffsets, idx.pqDataset, idx.indices = nil, nil, nil
}

// Dim returns the original vector dimensionality.
func (idx *Index) Dim() int { return idx.dim }

// PQBits returns the bit width of one code component.
func (idx *Index) PQBits() int { return idx.pqBits }

// PQDim returns the number of sub-vectors per compressed vector.
func (idx *Index) PQDim() int { return idx.pqDim }

// PQLen returns the sub-vector length in the rotated space.
func (idx *Index) PQLen() int { return idx.pqLen }

// RotDim returns the rotated dimensionality, pqLen*pqDim.
func (idx *Index) RotDim() int { return idx.rotDim }

// DimExt returns the padded center row width.
func (idx *Index) DimExt() int { return idx.dimExt }

// NLists returns the number of first-level clusters.
func (idx *Index) NLists() int { return idx.nLists }

// Metric returns the configured distance metric.
func (idx *Index) Metric() distance.Metric { return idx.metric }

// CodebookKind returns the codebook layout.
func (idx *Index) CodebookKind() CodebookKind { return idx.codebookKind }

// Trained reports whether Build has run (codebooks and centers are valid).
func (idx *Index) Trained() bool { return idx.trained }

// RowBytes returns the compressed size of one vector.
func (idx *Index) RowBytes() int { return idx.pqDim * idx.pqBits / 8 }

// Size returns the total number of indexed vectors.
func (idx *Index) Size() int {
	if idx.listOffsets == nil {
		return 0
	}
	return int(idx.listOffsets[idx.nLists])
}

// ListSize returns the number of vectors in list l.
func (idx *Index) ListSize(l int) int {
	return int(idx.listOffsets[l+1] - idx.listOffsets[l])
}

// NNonemptyLists returns the number of lists holding at least one vector.
func (idx *Index) NNonemptyLists() int {
	return int(idx.nonempty.GetCardinality())
}

// Centers returns the original-space centroids as an [nLists, dimExt] view.
// Column dim of each row caches the centroid's squared norm.
func (idx *Index) Centers() view.Matrix[float32] {
	m, _ := view.NewMatrixStrided(idx.centers, idx.nLists, idx.dim, idx.dimExt, view.Unified)
	return m
}

// RotatedCenters returns the rotated-space centroids as an [nLists, rotDim]
// view.
func (idx *Index) RotatedCenters() view.Matrix[float32] {
	m, _ := view.NewMatrix(idx.centersRot, idx.nLists, idx.rotDim, view.Unified)
	return m
}

// ListOffsets returns the prefix-sum partition of the compressed dataset.
func (idx *Index) ListOffsets() []int64 { return idx.listOffsets }

// listRows returns the code rows and ids of list l.
func (idx *Index) listRows(l int) ([]byte, []int64) {
	lo, hi := idx.listOffsets[l], idx.listOffsets[l+1]
	return idx.pqDataset[lo*int64(idx.RowBytes()) : hi*int64(idx.RowBytes())], idx.indices[lo:hi]
}
