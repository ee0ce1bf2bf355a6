package raft

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csadorf/raft/resource"
)

func TestStream_Ordering(t *testing.T) {
	h := NewHandle(WithLogger(NoopLogger()))
	defer h.Close()

	ctx := context.Background()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, h.Stream().Submit(ctx, func() error {
			got = append(got, i)
			return nil
		}))
	}
	require.NoError(t, h.Sync(ctx))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestStream_StickyError(t *testing.T) {
	h := NewHandle(WithLogger(NoopLogger()))
	defer h.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	require.NoError(t, h.Stream().Submit(ctx, func() error { return boom }))

	var ran atomic.Bool
	require.NoError(t, h.Stream().Submit(ctx, func() error {
		ran.Store(true)
		return nil
	}))

	// An earlier failure does not cancel later submissions, but is reported
	// on Sync.
	assert.ErrorIs(t, h.Sync(ctx), boom)
	assert.True(t, ran.Load())

	// Sticky across syncs.
	assert.ErrorIs(t, h.Sync(ctx), boom)
}

func TestStream_Run(t *testing.T) {
	h := NewHandle(WithLogger(NoopLogger()))
	defer h.Close()

	ctx := context.Background()
	err := h.Stream().Run(ctx, func() error { return ExecErrorf("launch failed") })
	assert.ErrorIs(t, err, ErrExecution)

	// Run errors are not sticky.
	assert.NoError(t, h.Sync(ctx))
}

func TestStream_Closed(t *testing.T) {
	h := NewHandle(WithLogger(NoopLogger()))
	h.Close()
	h.Close() // idempotent

	err := h.Stream().Submit(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrExecution)
}

func TestHandle_AllocThroughPool(t *testing.T) {
	h := NewHandle(
		WithLogger(NoopLogger()),
		WithResources(resource.Config{PoolLimitBytes: 1024}),
	)
	defer h.Close()

	buf, err := h.AllocFloat32(128) // 512 bytes
	require.NoError(t, err)
	require.Len(t, buf, 128)
	assert.Equal(t, int64(512), h.Resources().InUse())

	// Exhaustion is a resource error, not a panic or retry.
	_, err = h.AllocBytes(1024)
	require.ErrorIs(t, err, ErrResourceExhausted)

	h.FreeFloat32(buf)
	assert.Equal(t, int64(0), h.Resources().InUse())

	ids, err := h.AllocInt64(64)
	require.NoError(t, err)
	assert.Len(t, ids, 64)
	h.FreeInt64(ids)
}

func TestCopy(t *testing.T) {
	h := NewHandle(WithLogger(NoopLogger()))
	defer h.Close()

	src := []float32{1, 2, 3}
	dst := make([]float32, 3)
	require.NoError(t, Copy(context.Background(), h, dst, src))
	assert.Equal(t, src, dst)

	err := Copy(context.Background(), h, make([]float32, 2), src)
	assert.ErrorIs(t, err, ErrBadConfig)
}
