package ivfpq

import (
	"context"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/kmeans"
	"github.com/csadorf/raft/view"
)

// Build trains a new index on dataset and, unless params.AddDataOnBuild is
// false, populates it with every row under sequential ids starting at 0.
// Training covers the rotation, the first-level centroids and the PQ
// codebooks in one pass. On failure the returned index is nil and nothing is
// retained.
func Build(ctx context.Context, h *raft.Handle, params IndexParams, dataset view.Matrix[float32]) (*Index, error) {
	params = params.withDefaults()
	if dataset.IsEmpty() {
		return nil, raft.ConfigErrorf("ivfpq: build requires a non-empty dataset")
	}
	if dataset.Rows() > maxIndexedRows {
		return nil, raft.ConfigErrorf("ivfpq: dataset rows %d outside the indexable range", dataset.Rows())
	}

	var idx *Index
	err := h.Stream().Run(ctx, func() error {
		var err error
		idx, err = buildOnStream(ctx, h, params, dataset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func buildOnStream(ctx context.Context, h *raft.Handle, params IndexParams, dataset view.Matrix[float32]) (*Index, error) {
	idx, err := NewIndex(h, params.Metric, params.CodebookKind, params.NLists, dataset.Cols(), params.PQBits, params.PQDim)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			idx.Close()
		}
	}()

	log := h.Logger().WithDim(idx.dim).WithLists(idx.nLists).WithCount(dataset.Rows())
	log.Debug("ivfpq build: training",
		"pq_dim", idx.pqDim, "pq_bits", idx.pqBits,
		"codebook_kind", idx.codebookKind.String(), "metric", idx.metric.String())

	idx.trainRotation(params.ForceRandomRotation, params.Seed)

	n := dataset.Rows()
	rotBuf, err := h.AllocFloat32(n * idx.rotDim)
	if err != nil {
		return nil, err
	}
	defer h.FreeFloat32(rotBuf)
	for i := 0; i < n; i++ {
		idx.rotate(rotBuf[i*idx.rotDim:(i+1)*idx.rotDim], dataset.Row(i))
	}
	rotated, err := view.NewMatrix(rotBuf, n, idx.rotDim, view.Unified)
	if err != nil {
		return nil, err
	}

	cents, err := kmeans.Train(ctx, h, kmeans.Config{
		K:                idx.nLists,
		NIters:           params.KMeansNIters,
		TrainsetFraction: params.KMeansTrainsetFraction,
		Metric:           idx.metric,
		Seed:             params.Seed,
	}, rotated)
	if err != nil {
		return nil, err
	}
	copy(idx.centersRot, cents)
	h.FreeFloat32(cents)
	idx.refreshCenters()

	assignments := make([]int, n)
	if err := kmeans.Assign(ctx, h, idx.metric, rotated, idx.RotatedCenters(), assignments); err != nil {
		return nil, err
	}

	if err := idx.trainCodebooks(ctx, params, rotated, assignments); err != nil {
		return nil, err
	}
	idx.trained = true

	if params.AddDataOnBuild {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(i)
		}
		if err := idx.populate(rotated, assignments, ids); err != nil {
			return nil, err
		}
	} else {
		if err := idx.allocate(0); err != nil {
			return nil, err
		}
		for l := range idx.listOffsets {
			idx.listOffsets[l] = 0
		}
	}

	if err := idx.checkConsistency(); err != nil {
		return nil, err
	}
	ok = true
	log.Info("ivfpq build: done", "size", idx.Size(), "nonempty_lists", idx.NNonemptyLists())
	return idx, nil
}

// refreshCenters derives the original-space centroids from the rotated ones
// and caches each squared norm in the padded column.
func (idx *Index) refreshCenters() {
	for i := range idx.centers {
		idx.centers[i] = 0
	}
	for l := 0; l < idx.nLists; l++ {
		row := idx.centers[l*idx.dimExt : l*idx.dimExt+idx.dim]
		idx.unrotate(row, idx.centersRot[l*idx.rotDim:(l+1)*idx.rotDim])
		idx.centers[l*idx.dimExt+idx.dim] = math32.Dot(row, row)
	}
}

// populate replaces the dataset arrays with the encoded rows of rotated,
// grouped by cluster via a counting sort over assignments.
func (idx *Index) populate(rotated view.Matrix[float32], assignments []int, ids []int64) error {
	n := rotated.Rows()

	counts := make([]int64, idx.nLists)
	for _, l := range assignments {
		counts[l]++
	}
	idx.listOffsets[0] = 0
	for l := 0; l < idx.nLists; l++ {
		idx.listOffsets[l+1] = idx.listOffsets[l] + counts[l]
	}

	if err := idx.allocate(n); err != nil {
		return err
	}

	cursor := make([]int64, idx.nLists)
	copy(cursor, idx.listOffsets[:idx.nLists])

	cdc := newCodec(idx.pqDim, idx.pqBits)
	codes := make([]uint32, idx.pqDim)
	rowBytes := idx.RowBytes()

	idx.nonempty.Clear()
	for i := 0; i < n; i++ {
		l := assignments[i]
		row := cursor[l]
		cursor[l]++

		idx.encode(codes, rotated.Row(i), l)
		cdc.pack(idx.pqDataset[row*int64(rowBytes):(row+1)*int64(rowBytes)], codes)
		idx.indices[row] = ids[i]
		idx.nonempty.Add(uint32(l))
	}
	return nil
}

// Extend appends new vectors to an already-trained index without retraining.
// Each vector is assigned to its nearest existing cluster and encoded with
// the existing codebooks. ids must parallel vectors; a nil ids assigns
// sequential ids continuing from the current size. The append is
// all-or-nothing: on error the previous population is untouched.
func Extend(ctx context.Context, h *raft.Handle, idx *Index, vectors view.Matrix[float32], ids []int64) error {
	if idx == nil || !idx.trained {
		return raft.ConfigErrorf("ivfpq: extend requires a trained index")
	}
	if vectors.Cols() != idx.dim {
		return &raft.ErrDimensionMismatch{Expected: idx.dim, Actual: vectors.Cols()}
	}
	if ids != nil && len(ids) != vectors.Rows() {
		return raft.ConfigErrorf("ivfpq: got %d ids for %d vectors", len(ids), vectors.Rows())
	}
	if vectors.Rows() == 0 {
		return nil
	}
	if idx.Size()+vectors.Rows() > maxIndexedRows {
		return raft.ConfigErrorf("ivfpq: extend would exceed the indexable range")
	}

	return h.Stream().Run(ctx, func() error {
		return extendOnStream(ctx, h, idx, vectors, ids)
	})
}

func extendOnStream(ctx context.Context, h *raft.Handle, idx *Index, vectors view.Matrix[float32], ids []int64) error {
	n := vectors.Rows()
	if ids == nil {
		ids = make([]int64, n)
		for i := range ids {
			ids[i] = int64(idx.Size() + i)
		}
	}

	rotBuf, err := h.AllocFloat32(n * idx.rotDim)
	if err != nil {
		return err
	}
	defer h.FreeFloat32(rotBuf)
	for i := 0; i < n; i++ {
		idx.rotate(rotBuf[i*idx.rotDim:(i+1)*idx.rotDim], vectors.Row(i))
	}
	rotated, err := view.NewMatrix(rotBuf, n, idx.rotDim, view.Unified)
	if err != nil {
		return err
	}

	assignments := make([]int, n)
	if err := kmeans.Assign(ctx, h, idx.metric, rotated, idx.RotatedCenters(), assignments); err != nil {
		return err
	}

	newCounts := make([]int64, idx.nLists)
	for _, l := range assignments {
		newCounts[l]++
	}

	oldOffsets := idx.listOffsets
	offsets := make([]int64, idx.nLists+1)
	for l := 0; l < idx.nLists; l++ {
		offsets[l+1] = offsets[l] + (oldOffsets[l+1] - oldOffsets[l]) + newCounts[l]
	}
	total := offsets[idx.nLists]
	rowBytes := int64(idx.RowBytes())

	// Assemble the merged arrays aside and swap only on success, so a
	// failed append never corrupts the existing lists.
	newData, err := h.AllocBytes(int(total * rowBytes))
	if err != nil {
		return err
	}
	newIndices, err := h.AllocInt64(int(total))
	if err != nil {
		h.FreeBytes(newData)
		return err
	}

	cursor := make([]int64, idx.nLists)
	for l := 0; l < idx.nLists; l++ {
		oldLo, oldHi := oldOffsets[l], oldOffsets[l+1]
		dst := offsets[l]
		if oldHi > oldLo {
			if err := raft.Copy(ctx, h, newData[dst*rowBytes:(dst+oldHi-oldLo)*rowBytes], idx.pqDataset[oldLo*rowBytes:oldHi*rowBytes]); err != nil {
				h.FreeBytes(newData)
				h.FreeInt64(newIndices)
				return err
			}
			copy(newIndices[dst:], idx.indices[oldLo:oldHi])
		}
		cursor[l] = dst + (oldHi - oldLo)
	}

	cdc := newCodec(idx.pqDim, idx.pqBits)
	codes := make([]uint32, idx.pqDim)
	for i := 0; i < n; i++ {
		l := assignments[i]
		row := cursor[l]
		cursor[l]++

		idx.encode(codes, rotated.Row(i), l)
		cdc.pack(newData[row*rowBytes:(row+1)*rowBytes], codes)
		newIndices[row] = ids[i]
	}

	if idx.pqDataset != nil {
		h.FreeBytes(idx.pqDataset)
		h.FreeInt64(idx.indices)
	}
	idx.pqDataset = newData
	idx.indices = newIndices
	copy(idx.listOffsets, offsets)
	for l := 0; l < idx.nLists; l++ {
		if newCounts[l] > 0 {
			idx.nonempty.Add(uint32(l))
		}
	}

	if err := idx.checkConsistency(); err != nil {
		return err
	}
	h.Logger().WithCount(n).Info("ivfpq extend: done", "size", idx.Size(), "nonempty_lists", idx.NNonemptyLists())
	return nil
}
