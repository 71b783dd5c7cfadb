package counter

import (
	"sync"
	"time"

	"pancount/internal/model"
)

type Options struct {
	Window      int
	AutoConfirm bool
	// AutoConfirmThreshold is the stable count at or below which the line
	// counts as empty. Zero means the tray must be cleared completely.
	AutoConfirmThreshold int
	Now                  func() time.Time
}

func DefaultOptions() Options {
	return Options{Window: DefaultWindow, AutoConfirm: true}
}

type UpdateResult struct {
	Current       int
	Stable        int
	AutoConfirmed bool
	// Batch is set when AutoConfirmed is true.
	Batch model.Batch
}

// BatchCounter turns a stream of raw counts into confirmed batches.
// Update and the confirm/reset calls are meant to be driven from a single
// goroutine; State and the ledger queries may be called from anywhere.
type BatchCounter struct {
	mu             sync.RWMutex
	opts           Options
	stabilizer     *Stabilizer
	ledger         *Ledger
	current        int
	stable         int
	previousStable int
}

func NewBatchCounter(opts Options, ledger *Ledger) *BatchCounter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AutoConfirmThreshold < 0 {
		opts.AutoConfirmThreshold = 0
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	return &BatchCounter{
		opts:       opts,
		stabilizer: NewStabilizer(opts.Window),
		ledger:     ledger,
	}
}

func (c *BatchCounter) Update(raw int) UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = raw
	c.stable = c.stabilizer.Update(raw)
	res := UpdateResult{Current: c.current, Stable: c.stable}

	// falling edge only: the line just emptied after holding product
	if c.opts.AutoConfirm && c.previousStable > c.opts.AutoConfirmThreshold && c.stable <= c.opts.AutoConfirmThreshold {
		if batch, ok := c.confirmLocked(c.previousStable, ""); ok {
			res.AutoConfirmed = true
			res.Batch = batch
			return res
		}
	}
	c.previousStable = c.stable
	return res
}

// ConfirmBatch closes the current cycle. A nil manual count confirms the
// current stable count. Counts that are not positive are rejected and leave
// all state untouched.
func (c *BatchCounter) ConfirmBatch(manual *int) (model.Batch, bool) {
	return c.ConfirmBatchWithNotes(manual, "")
}

func (c *BatchCounter) ConfirmBatchWithNotes(manual *int, notes string) (model.Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.stable
	if manual != nil {
		count = *manual
	}
	return c.confirmLocked(count, notes)
}

func (c *BatchCounter) confirmLocked(count int, notes string) (model.Batch, bool) {
	if count <= 0 {
		return model.Batch{}, false
	}
	batch := c.ledger.append(count, notes, c.opts.Now())
	c.resetLocked()
	return batch, true
}

// ResetCurrent drops the in-progress cycle without recording a batch.
func (c *BatchCounter) ResetCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// ResetAll drops the in-progress cycle and the ledger contents.
func (c *BatchCounter) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.ledger.Clear()
}

func (c *BatchCounter) resetLocked() {
	c.current = 0
	c.stable = 0
	c.previousStable = 0
	c.stabilizer.Reset()
}

func (c *BatchCounter) State() model.CounterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.CounterState{
		Current:        c.current,
		Stable:         c.stable,
		PreviousStable: c.previousStable,
		History:        c.stabilizer.History(),
		Batches:        c.ledger.Len(),
	}
}

func (c *BatchCounter) Ledger() *Ledger {
	return c.ledger
}
