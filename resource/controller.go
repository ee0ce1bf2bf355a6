// Package resource tracks the memory and concurrency budget of an execution
// context. Every persistent or scratch array the index owns is reserved
// against a Controller before it is allocated.
package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrPoolExhausted is returned when a reservation would exceed the pool limit.
// Exhaustion is surfaced to the caller, never retried internally.
var ErrPoolExhausted = errors.New("resource: memory pool exhausted")

// Config holds resource limits.
type Config struct {
	// PoolLimitBytes is the hard limit for pool-managed memory.
	// If 0, no hard limit is enforced (only tracking).
	PoolLimitBytes int64

	// MaxWorkers is the maximum number of concurrent kernel workers.
	// If 0, defaults to GOMAXPROCS.
	MaxWorkers int64

	// CopyLimitBytesPerSec throttles bulk buffer copies.
	// If 0, unlimited.
	CopyLimitBytesPerSec int64
}

// Controller manages the memory pool and worker slots of one execution context.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Concurrency
	workerSem *semaphore.Weighted

	// Copy throughput
	copyLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = int64(runtime.GOMAXPROCS(0))
	}

	c := &Controller{
		cfg:       cfg,
		workerSem: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.PoolLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.PoolLimitBytes)
	}

	if cfg.CopyLimitBytesPerSec > 0 {
		c.copyLimiter = rate.NewLimiter(rate.Limit(cfg.CopyLimitBytesPerSec), int(cfg.CopyLimitBytesPerSec))
	}

	return c
}

// Reserve reserves memory from the pool without blocking.
// Returns ErrPoolExhausted if a hard limit is configured and the reservation
// would exceed it.
func (c *Controller) Reserve(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return fmt.Errorf("%w: requested %d bytes, in use %d of %d",
			ErrPoolExhausted, bytes, c.memUsed.Load(), c.cfg.PoolLimitBytes)
	}

	c.memUsed.Add(bytes)
	return nil
}

// Release returns reserved memory to the pool.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// InUse returns the current pool usage in bytes.
func (c *Controller) InUse() int64 {
	return c.memUsed.Load()
}

// MaxWorkers returns the configured worker slot count.
func (c *Controller) MaxWorkers() int {
	return int(c.cfg.MaxWorkers)
}

// AcquireWorker reserves a kernel worker slot, blocking while all slots are
// busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	return c.workerSem.Acquire(ctx, 1)
}

// TryAcquireWorker reserves a worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	return c.workerSem.TryAcquire(1)
}

// ReleaseWorker releases a kernel worker slot.
func (c *Controller) ReleaseWorker() {
	c.workerSem.Release(1)
}

// ThrottleCopy waits until the copy-throughput limit allows the given number
// of bytes to move.
func (c *Controller) ThrottleCopy(ctx context.Context, bytes int) error {
	if c == nil || c.copyLimiter == nil {
		return nil
	}
	return c.copyLimiter.WaitN(ctx, bytes)
}
