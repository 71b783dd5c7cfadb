package detect

import (
	"context"
	"sync"

	"pancount/internal/config"
	"pancount/internal/model"
)

// Mailbox is a latest-only slot filled by external detectors. Next hands
// out each sample at most once; older unread samples are overwritten.
type Mailbox struct {
	runtime *config.Runtime

	mu       sync.Mutex
	latest   model.DetectionSample
	fresh    bool
	received uint64
	dropped  uint64
}

// NewMailbox filters incoming boxes with the runtime's live parameters when
// runtime is not nil.
func NewMailbox(runtime *config.Runtime) *Mailbox {
	return &Mailbox{runtime: runtime}
}

func (m *Mailbox) Put(sample model.DetectionSample) {
	if m.runtime != nil && len(sample.Boxes) > 0 {
		sample = Filter(sample, ParamsFrom(m.runtime.Snapshot()))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh {
		m.dropped++
	}
	m.latest = sample
	m.fresh = true
	m.received++
}

func (m *Mailbox) Next(ctx context.Context) (model.DetectionSample, error) {
	if err := ctx.Err(); err != nil {
		return model.DetectionSample{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fresh {
		return model.DetectionSample{}, ErrNoSample
	}
	m.fresh = false
	return m.latest, nil
}

// Stats returns how many samples were received and how many were
// overwritten before being read.
func (m *Mailbox) Stats() (uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.dropped
}
