package ivfpq

import (
	"github.com/csadorf/raft"
	"github.com/csadorf/raft/distance"
)

// CodebookKind selects how PQ codebooks are trained and stored.
type CodebookKind uint8

const (
	// PerSubspace trains one codebook per sub-vector slice, shared across
	// all inverted lists. Shape [pqDim, 2^pqBits, pqLen].
	PerSubspace CodebookKind = iota
	// PerCluster trains one codebook per first-level cluster on that
	// cluster's residuals. Shape [nLists, 2^pqBits, pqLen].
	PerCluster
)

func (k CodebookKind) String() string {
	switch k {
	case PerSubspace:
		return "per-subspace"
	case PerCluster:
		return "per-cluster"
	default:
		return "unknown"
	}
}

// ScalarKind selects the numeric precision of a search-time buffer.
type ScalarKind uint8

const (
	// Float32 is the full-precision default.
	Float32 ScalarKind = iota
	// Float16 halves memory at a small recall cost.
	Float16
	// Uint8 quantizes lookup-table entries to a byte. Valid for the LUT
	// only, not for internal distances.
	Uint8
)

func (k ScalarKind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// IndexParams configure training and population of a new index.
type IndexParams struct {
	// NLists is the number of first-level clusters. Defaults to 1024.
	NLists int
	// KMeansNIters is the iteration budget for both clustering levels.
	// Defaults to 20.
	KMeansNIters int
	// KMeansTrainsetFraction trains first-level centroids on a random
	// fraction of the dataset. Defaults to 0.5.
	KMeansTrainsetFraction float64
	// PQBits is the bit width of one code component, in [4, 8]. Defaults
	// to 8.
	PQBits int
	// PQDim is the number of sub-vectors per compressed vector. Zero means
	// derive it from dim (see CalculatePQDim). PQDim*PQBits must be a
	// multiple of 8.
	PQDim int
	// CodebookKind selects per-subspace or per-cluster codebooks.
	CodebookKind CodebookKind
	// ForceRandomRotation applies a random orthogonal rotation even when
	// dim divides evenly into sub-vectors.
	ForceRandomRotation bool
	// Metric scores candidates. L2Expanded by default.
	Metric distance.Metric
	// MetricArg parameterizes metrics that need one (unused by L2 and
	// inner product, kept for interface parity).
	MetricArg float32
	// AddDataOnBuild populates the lists during Build. When false, Build
	// only trains and callers populate via Extend. Defaults to true.
	AddDataOnBuild bool
	// Seed fixes rotation generation and k-means sampling.
	Seed int64
}

// DefaultIndexParams returns the build defaults.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		NLists:                 1024,
		KMeansNIters:           20,
		KMeansTrainsetFraction: 0.5,
		PQBits:                 8,
		CodebookKind:           PerSubspace,
		Metric:                 distance.L2Expanded,
		AddDataOnBuild:         true,
	}
}

func (p IndexParams) withDefaults() IndexParams {
	d := DefaultIndexParams()
	if p.NLists == 0 {
		p.NLists = d.NLists
	}
	if p.KMeansNIters == 0 {
		p.KMeansNIters = d.KMeansNIters
	}
	if p.KMeansTrainsetFraction == 0 {
		p.KMeansTrainsetFraction = d.KMeansTrainsetFraction
	}
	if p.PQBits == 0 {
		p.PQBits = d.PQBits
	}
	return p
}

// SearchParams configure one search call.
type SearchParams struct {
	// NProbes is the number of first-level clusters scanned per query.
	// Defaults to 20 and is clamped to NLists.
	NProbes int
	// LutDtype is the element precision of the per-cluster lookup table:
	// Float32, Float16 or Uint8.
	LutDtype ScalarKind
	// InternalDistanceDtype is the accumulator precision for candidate
	// distances: Float32 or Float16.
	InternalDistanceDtype ScalarKind
	// PreferredThreadBlockSize hints the scan batch size: 0 (auto), 256,
	// 512 or 1024.
	PreferredThreadBlockSize int
}

// DefaultSearchParams returns the search defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{NProbes: 20}
}

func (p SearchParams) withDefaults() SearchParams {
	if p.NProbes == 0 {
		p.NProbes = 20
	}
	return p
}

func (p SearchParams) validate() error {
	if p.NProbes <= 0 {
		return raft.ConfigErrorf("ivfpq: n_probes must be positive, got %d", p.NProbes)
	}
	switch p.LutDtype {
	case Float32, Float16, Uint8:
	default:
		return raft.ConfigErrorf("ivfpq: unsupported lut dtype %d", p.LutDtype)
	}
	switch p.InternalDistanceDtype {
	case Float32, Float16:
	default:
		return raft.ConfigErrorf("ivfpq: internal distance dtype must be float32 or float16, got %s", p.InternalDistanceDtype)
	}
	switch p.PreferredThreadBlockSize {
	case 0, 256, 512, 1024:
	default:
		return raft.ConfigErrorf("ivfpq: preferred thread block size must be 0, 256, 512 or 1024, got %d", p.PreferredThreadBlockSize)
	}
	return nil
}

// CalculatePQDim derives a pq_dim for a dataset dimensionality: halve large
// dims, prefer a multiple of 32, otherwise fall back to the largest power of
// two not exceeding dim. Never returns less than 1.
func CalculatePQDim(dim int) int {
	if dim >= 128 {
		dim /= 2
	}
	if r := dim - dim%32; r > 0 {
		return r
	}
	r := 1
	for r<<1 <= dim {
		r <<= 1
	}
	return r
}
