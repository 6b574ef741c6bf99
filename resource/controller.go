package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryBudget is returned when a single reservation is larger than the
// whole memory budget and could never be granted.
var ErrMemoryBudget = errors.New("resource: memory budget exceeded")

// Config holds resource limits for an engine context.
type Config struct {
	// MemoryBudgetBytes caps the memory reserved for query result buffers.
	// If 0, usage is tracked but not limited.
	MemoryBudgetBytes int64

	// MaxMaintenanceWorkers is the maximum number of concurrent
	// consolidation and vacuum jobs. If 0, defaults to 1.
	MaxMaintenanceWorkers int64

	// IOLimitBytesPerSec throttles maintenance writes so that they do not
	// starve foreground queries. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages the shared resources of an engine context: the buffer
// memory budget, maintenance concurrency, and maintenance IO bandwidth.
// A nil Controller is valid and enforces nothing.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	maintSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxMaintenanceWorkers <= 0 {
		cfg.MaxMaintenanceWorkers = 1
	}

	c := &Controller{
		cfg:      cfg,
		maintSem: semaphore.NewWeighted(cfg.MaxMaintenanceWorkers),
	}

	if cfg.MemoryBudgetBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryBudgetBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves buffer memory, blocking until the budget allows it
// or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if bytes > c.cfg.MemoryBudgetBytes {
			return ErrMemoryBudget
		}
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory reserves buffer memory without blocking. Returns false
// if the budget would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory returns reserved buffer memory to the budget.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved buffer memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireMaintenance reserves a maintenance worker slot, blocking while all
// slots are busy.
func (c *Controller) AcquireMaintenance(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.maintSem.Acquire(ctx, 1)
}

// TryAcquireMaintenance reserves a maintenance worker slot without blocking.
func (c *Controller) TryAcquireMaintenance() bool {
	if c == nil {
		return true
	}
	return c.maintSem.TryAcquire(1)
}

// ReleaseMaintenance releases a maintenance worker slot.
func (c *Controller) ReleaseMaintenance() {
	if c == nil {
		return
	}
	c.maintSem.Release(1)
}

// AcquireIO waits until the maintenance IO limit allows the given number of
// bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int64) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN cannot exceed the limiter burst, so large fragments are
	// throttled in burst-sized slices.
	burst := int64(c.ioLimiter.Burst())
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, int(n)); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
