package counter

import (
	"sync"
	"time"

	"pancount/internal/model"
)

// Ledger is the append-only list of confirmed batches. Ids are strictly
// increasing for the life of the process, across Clear.
type Ledger struct {
	mu      sync.RWMutex
	batches []model.Batch
	nextID  int
}

func NewLedger() *Ledger {
	return &Ledger{nextID: 1}
}

func (l *Ledger) append(count int, notes string, at time.Time) model.Batch {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := model.Batch{ID: l.nextID, Count: count, ConfirmedAt: at, Notes: notes}
	l.nextID++
	l.batches = append(l.batches, b)
	return b
}

// Restore replaces the ledger with previously persisted batches.
func (l *Ledger) Restore(batches []model.Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append([]model.Batch(nil), batches...)
	for _, b := range batches {
		if b.ID >= l.nextID {
			l.nextID = b.ID + 1
		}
	}
}

func (l *Ledger) List() []model.Batch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.Batch(nil), l.batches...)
}

// Recent returns up to n of the newest batches, oldest first.
func (l *Ledger) Recent(n int) []model.Batch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.batches) {
		n = len(l.batches)
	}
	return append([]model.Batch(nil), l.batches[len(l.batches)-n:]...)
}

func (l *Ledger) Get(id int) (model.Batch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.batches {
		if b.ID == id {
			return b, true
		}
	}
	return model.Batch{}, false
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.batches)
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = nil
}

func (l *Ledger) Statistics(now time.Time) model.Statistics {
	list := l.List()
	return model.Statistics{
		Today: Today(list, now),
		Week:  Week(list, now),
		Month: Month(list, now),
		Total: Total(list),
	}
}

// DailyProduction is the per-day total for the last n days, oldest first.
func (l *Ledger) DailyProduction(now time.Time, n int) []model.DayTotal {
	return DailyProduction(l.List(), now, n)
}
