package trigger

import (
	"context"
	"sync"
)

// batchCell is an exclusive-owner cell guarding the in-flight batch of
// rows and the lease renewal count so the polling loop and the
// lease-renewal loop can safely share them. The cell is held across
// every renewal attempt and across release/clear, but it is not held
// while the executor runs, letting renewal proceed concurrently with a
// long-running handler.
type batchCell struct {
	mu sync.Mutex

	rows         []changeRow
	renewalCount int
	executorCtx  context.Context
	executorStop context.CancelFunc
}

// newBatchCell returns an empty, unlocked cell.
func newBatchCell() *batchCell {
	return &batchCell{}
}

// withLock runs fn while holding the cell's mutex.
func (c *batchCell) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// set installs a freshly-acquired batch and a fresh executor
// cancellation source, resetting the renewal counter. Called by the
// polling loop after a successful lease-acquisition transaction, under
// the lock.
func (c *batchCell) set(ctx context.Context, rows []changeRow) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = rows
	c.renewalCount = 0
	c.executorCtx, c.executorStop = context.WithCancel(ctx)
	return c.executorCtx
}

// clear empties the cell: called on success, handler failure, decode
// failure, or after a stuck-handler cancellation. clear takes the lock
// itself; clearLocked is for callers (like the polling loop's
// end-of-tick reset) that already hold it.
func (c *batchCell) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *batchCell) clearLocked() {
	c.rows = nil
	c.renewalCount = 0
	if c.executorStop != nil {
		c.executorStop()
	}
	c.executorCtx, c.executorStop = nil, nil
}

// snapshotLocked returns a copy of the current rows, including each
// row's pk slice, so the caller cannot mutate the cell's batch through
// it. Callers must already hold the lock.
func (c *batchCell) snapshotLocked() []changeRow {
	if len(c.rows) == 0 {
		return nil
	}
	out := make([]changeRow, len(c.rows))
	copy(out, c.rows)
	for i := range out {
		out[i].pk = append([]string(nil), c.rows[i].pk...)
	}
	return out
}
