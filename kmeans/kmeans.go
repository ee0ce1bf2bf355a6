// Package kmeans implements iterative (Lloyd's) clustering over row-major
// vector sets. The index trainer runs it twice: once to place first-level
// inverted lists and once per subspace or per cluster to build PQ codebooks.
package kmeans

import (
	"context"
	"math/rand"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/linalg"
	"github.com/csadorf/raft/view"
)

// assignChunk rows are scored against all centroids at once; keeps the
// scratch distance buffer modest for large trainsets.
const assignChunk = 256

// Config parameterizes one training run.
type Config struct {
	// K is the number of centroids.
	K int
	// NIters is the fixed iteration budget. Defaults to 20.
	NIters int
	// TrainsetFraction trains on a random fraction of the rows when in
	// (0, 1). Defaults to 1 (use everything).
	TrainsetFraction float64
	// Metric used for assignment. Must match the consuming index's metric.
	Metric distance.Metric
	// Seed fixes centroid seeding and subsampling, making runs
	// reproducible.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.NIters <= 0 {
		c.NIters = 20
	}
	if c.TrainsetFraction <= 0 || c.TrainsetFraction > 1 {
		c.TrainsetFraction = 1
	}
	return c
}

// Train clusters the rows of data into cfg.K centroids and returns them
// flattened [K * dim]. Assignment ties always resolve to the lowest centroid
// index, so a fixed seed yields an identical result.
func Train(ctx context.Context, h *raft.Handle, cfg Config, data view.Matrix[float32]) ([]float32, error) {
	cfg = cfg.withDefaults()
	if cfg.K <= 0 {
		return nil, raft.ConfigErrorf("kmeans: K must be positive, got %d", cfg.K)
	}
	if data.IsEmpty() {
		return nil, raft.ConfigErrorf("kmeans: empty trainset")
	}
	if _, err := distance.Provider(cfg.Metric); err != nil {
		return nil, raft.ExecErrorf("kmeans: %v", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	dim := data.Cols()

	train := data
	if cfg.TrainsetFraction < 1 {
		sub, err := subsample(h, data, cfg.TrainsetFraction, rng)
		if err != nil {
			return nil, err
		}
		train = sub
		defer h.FreeFloat32(sub.Data())
	}
	n := train.Rows()

	centroids, err := h.AllocFloat32(cfg.K * dim)
	if err != nil {
		return nil, err
	}
	seedPlusPlus(centroids, train, cfg.K, rng)

	cents, err := view.NewMatrix(centroids, cfg.K, dim, train.Space())
	if err != nil {
		return nil, err
	}

	assignments := make([]int, n)
	counts := make([]int, cfg.K)
	sums := make([]float32, cfg.K*dim)

	for iter := 0; iter < cfg.NIters; iter++ {
		changed, err := assignRows(ctx, h, cfg.Metric, train, cents, assignments)
		if err != nil {
			return nil, err
		}
		if !changed && iter > 0 {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			math32.AddInPlace(sums[c*dim:(c+1)*dim], train.Row(i))
			counts[c]++
		}

		for j := 0; j < cfg.K; j++ {
			dst := centroids[j*dim : (j+1)*dim]
			if counts[j] > 0 {
				copy(dst, sums[j*dim:(j+1)*dim])
				math32.ScaleInPlace(dst, 1/float32(counts[j]))
			} else {
				// Reseed an empty centroid from a random row.
				copy(dst, train.Row(rng.Intn(n)))
			}
		}
	}

	return centroids, nil
}

// Assign stores, for every row of data, the index of its nearest centroid.
// Ties break to the lowest centroid index.
func Assign(ctx context.Context, h *raft.Handle, metric distance.Metric, data, centroids view.Matrix[float32], out []int) error {
	if len(out) < data.Rows() {
		return raft.ConfigErrorf("kmeans: assignment buffer too small: have %d, need %d", len(out), data.Rows())
	}
	_, err := assignRows(ctx, h, metric, data, centroids, out)
	return err
}

func assignRows(ctx context.Context, h *raft.Handle, metric distance.Metric, data, centroids view.Matrix[float32], out []int) (bool, error) {
	k := centroids.Rows()
	dists := make([]float32, assignChunk*k)
	changed := false

	for start := 0; start < data.Rows(); start += assignChunk {
		end := min(start+assignChunk, data.Rows())
		chunk, err := data.SliceRows(start, end)
		if err != nil {
			return false, err
		}
		if err := linalg.PairwiseDistance(ctx, h, metric, chunk, centroids, dists); err != nil {
			return false, err
		}
		for i := 0; i < chunk.Rows(); i++ {
			best := math32.ArgMin(dists[i*k : (i+1)*k])
			if out[start+i] != best {
				out[start+i] = best
				changed = true
			}
		}
	}
	return changed, nil
}

// subsample gathers a random fraction of rows into a fresh dense matrix.
func subsample(h *raft.Handle, data view.Matrix[float32], fraction float64, rng *rand.Rand) (view.Matrix[float32], error) {
	n := max(1, int(float64(data.Rows())*fraction))
	perm := rng.Perm(data.Rows())[:n]

	dim := data.Cols()
	buf, err := h.AllocFloat32(n * dim)
	if err != nil {
		return view.Matrix[float32]{}, err
	}
	for i, src := range perm {
		copy(buf[i*dim:(i+1)*dim], data.Row(src))
	}
	return view.NewMatrix(buf, n, dim, data.Space())
}

// seedPlusPlus initializes centroids with k-means++ sampling: the first
// centroid uniformly, the rest proportional to the squared L2 distance from
// the nearest chosen centroid. Seeding always weighs by squared L2 even for
// inner-product indexes; only the Lloyd assignments honor the metric.
func seedPlusPlus(centroids []float32, data view.Matrix[float32], k int, rng *rand.Rand) {
	n := data.Rows()
	dim := data.Cols()

	if n < k {
		// Not enough rows to pick distinct seeds; cycle through what we have.
		for i := 0; i < k; i++ {
			copy(centroids[i*dim:(i+1)*dim], data.Row(i%n))
		}
		return
	}

	copy(centroids[:dim], data.Row(rng.Intn(n)))

	minDist := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		d := math32.SquaredL2(data.Row(i), centroids[:dim])
		minDist[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		dst := centroids[c*dim : (c+1)*dim]
		if sum <= 0 {
			copy(dst, data.Row(rng.Intn(n)))
			continue
		}

		target := rng.Float32() * sum
		var cumsum float32
		chosen := 0
		for i, d := range minDist {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(dst, data.Row(chosen))

		sum = 0
		for i := 0; i < n; i++ {
			d := math32.SquaredL2(data.Row(i), dst)
			if d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}
}
