package activity

import (
	"fmt"
	"sync"
	"time"

	"pancount/internal/model"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Store is a bounded log of operator-visible events, oldest dropped first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.ActivityEntry
	limit int
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit, now: time.Now}
}

func (s *Store) Add(entry model.ActivityEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
}

func (s *Store) Logf(level, format string, args ...any) {
	s.Add(model.ActivityEntry{Level: level, Message: fmt.Sprintf(format, args...)})
}

// List returns up to limit of the newest entries, oldest first.
func (s *Store) List(limit int) []model.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.ActivityEntry, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ActivityEntry, 0)
	for _, e := range s.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
