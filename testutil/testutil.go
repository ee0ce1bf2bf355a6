package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/view"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID       int64
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillGaussian fills dst with standard normal values.
func (r *RNG) FillGaussian(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = float32(r.rand.NormFloat64())
	}
}

// UniformVectors generates num random vectors of the given dimensionality
// with values in [0, 1), flattened row-major into one backing array.
func (r *RNG) UniformVectors(num, dim int) []float32 {
	data := make([]float32, num*dim)
	r.FillUniform(data)
	return data
}

// GaussianVectors generates num random vectors with standard normal values,
// flattened row-major.
func (r *RNG) GaussianVectors(num, dim int) []float32 {
	data := make([]float32, num*dim)
	r.FillGaussian(data)
	return data
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere),
// flattened row-major. Uses Gaussian draws for uniform direction.
func (r *RNG) UnitVectors(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range num {
		vec := data[i*dim : (i+1)*dim]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		math32.ScaleInPlace(vec, float32(1.0/math.Sqrt(norm)))
	}
	return data
}

// ClusteredVectors generates vectors clustered around random unit centroids.
// Useful for exercising inverted-list indexes on non-uniform data.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) []float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range num {
		centroid := centroids[(i%clusters)*dim : (i%clusters+1)*dim]
		vec := data[i*dim : (i+1)*dim]
		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data
}

// ComputeRecall computes recall@k by comparing approximate results against
// ground truth. Sentinel (negative) ids in the approximate set never count
// as hits.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[int64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if r.ID < 0 {
			continue
		}
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// BruteForceSearch performs exact search for ground truth. The dataset row
// index doubles as the id. Ties sort to the lower id, matching the index's
// own tie handling.
func BruteForceSearch(dataset view.Matrix[float32], query []float32, k int, metric distance.Metric) []SearchResult {
	results := make([]SearchResult, dataset.Rows())
	for i := range results {
		var d float32
		if metric.IsL2() {
			d = math32.SquaredL2(query, dataset.Row(i))
		} else {
			d = -math32.Dot(query, dataset.Row(i))
		}
		results[i] = SearchResult{ID: int64(i), Distance: d}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
