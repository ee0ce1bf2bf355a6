// Package raft provides linear algebra primitives and approximate
// nearest-neighbor search over large vector sets.
//
// The package root owns the execution context (Handle): an ordered command
// stream, a memory pool, and structured logging. Algorithms live in
// subpackages:
//
//   - view:     shape-aware, non-owning vector/matrix views
//   - distance: metric definitions and scalar distance kernels
//   - linalg:   pairwise inner products and derived distances
//   - kmeans:   iterative clustering (index training)
//   - ivfpq:    the IVF-PQ index (build / extend / search)
//   - searcher: bounded top-k candidate ranking
//
// All operations issued through one Handle execute in submission order on its
// stream; callers synchronize with Handle.Sync before reading output buffers.
package raft
