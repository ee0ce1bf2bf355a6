package raft

import (
	"context"
	"log/slog"

	"github.com/csadorf/raft/internal/mem"
	"github.com/csadorf/raft/resource"
)

// Handle is the unified execution context every operation runs against.
// It owns one ordered command stream, a resource controller (memory pool,
// worker slots) and a logger. A Handle is safe for concurrent use; ordering
// guarantees apply per stream.
type Handle struct {
	logger *Logger
	res    *resource.Controller
	stream *Stream
}

type handleOptions struct {
	logger      *Logger
	resources   resource.Config
	streamDepth int
}

// HandleOption configures a Handle.
type HandleOption func(*handleOptions)

// WithLogger sets the handle's logger. Defaults to a text logger at Info.
func WithLogger(l *Logger) HandleOption {
	return func(o *handleOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithResources sets the resource limits of the handle's pool.
func WithResources(cfg resource.Config) HandleOption {
	return func(o *handleOptions) {
		o.resources = cfg
	}
}

// WithStreamDepth sets the stream's queue depth.
func WithStreamDepth(depth int) HandleOption {
	return func(o *handleOptions) {
		o.streamDepth = depth
	}
}

// NewHandle creates an execution context with its own stream and memory pool.
// Multiple independent handles may run concurrently.
func NewHandle(opts ...HandleOption) *Handle {
	o := handleOptions{
		logger: NewTextLogger(slog.LevelInfo),
	}
	for _, fn := range opts {
		fn(&o)
	}

	return &Handle{
		logger: o.logger,
		res:    resource.NewController(o.resources),
		stream: newStream(o.streamDepth),
	}
}

// Logger returns the handle's logger.
func (h *Handle) Logger() *Logger { return h.logger }

// Resources returns the handle's resource controller.
func (h *Handle) Resources() *resource.Controller { return h.res }

// Stream returns the handle's ordered command stream.
func (h *Handle) Stream() *Stream { return h.stream }

// Sync blocks until all work previously submitted to the handle's stream has
// completed. Output buffers are safe to read only after Sync returns.
func (h *Handle) Sync(ctx context.Context) error {
	return h.stream.Sync(ctx)
}

// Close shuts the stream down after draining queued work.
func (h *Handle) Close() {
	h.stream.Close()
}

// AllocFloat32 allocates a float32 array through the memory pool.
func (h *Handle) AllocFloat32(n int) ([]float32, error) {
	if err := h.res.Reserve(int64(n) * 4); err != nil {
		return nil, translateResourceError(err)
	}
	return mem.AllocAlignedFloat32(n), nil
}

// AllocBytes allocates a byte array through the memory pool.
func (h *Handle) AllocBytes(n int) ([]byte, error) {
	if err := h.res.Reserve(int64(n)); err != nil {
		return nil, translateResourceError(err)
	}
	return mem.AllocAligned(n), nil
}

// AllocInt64 allocates an int64 array through the memory pool.
func (h *Handle) AllocInt64(n int) ([]int64, error) {
	if err := h.res.Reserve(int64(n) * 8); err != nil {
		return nil, translateResourceError(err)
	}
	return mem.AllocAlignedInt64(n), nil
}

// FreeFloat32 returns a float32 array's reservation to the pool.
func (h *Handle) FreeFloat32(buf []float32) {
	h.res.Release(int64(len(buf)) * 4)
}

// FreeBytes returns a byte array's reservation to the pool.
func (h *Handle) FreeBytes(buf []byte) {
	h.res.Release(int64(len(buf)))
}

// FreeInt64 returns an int64 array's reservation to the pool.
func (h *Handle) FreeInt64(buf []int64) {
	h.res.Release(int64(len(buf)) * 8)
}

// Copy moves src into dst under the pool's copy-throughput limit.
// Both buffers must have equal length.
func Copy[T float32 | byte | int64](ctx context.Context, h *Handle, dst, src []T) error {
	if len(dst) != len(src) {
		return ConfigErrorf("copy length mismatch: dst %d, src %d", len(dst), len(src))
	}
	if err := h.res.ThrottleCopy(ctx, len(src)*sizeOf[T]()); err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func sizeOf[T float32 | byte | int64]() int {
	var z T
	switch any(z).(type) {
	case float32:
		return 4
	case int64:
		return 8
	default:
		return 1
	}
}
