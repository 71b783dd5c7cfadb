package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Task struct {
	Name     string
	Interval time.Duration
	// Delay skips the first evaluation so the task starts one interval out.
	Delay bool
	Run   func(ctx context.Context) error
}

// Scheduler runs periodic tasks cooperatively from the caller's loop. A task
// is due when now - lastFired >= interval; lastFired moves on every attempt,
// so a failing task is retried on its next interval and not sooner.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	tasks []Task
	last  map[string]time.Time
}

func NewScheduler(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, logger: logger, last: make(map[string]time.Time)}
}

func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	if task.Delay {
		s.last[task.Name] = s.clock.Now()
	}
}

// RunDue runs every due task in registration order and returns the names
// that fired. Task errors and panics are logged and never propagate.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.clock.Now()
	due := s.collect(now)
	fired := make([]string, 0, len(due))
	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		fired = append(fired, task.Name)
		if err := s.run(ctx, task); err != nil && s.logger != nil {
			s.logger.Warn("scheduled task failed", "task", task.Name, "err", err)
		}
	}
	return fired
}

func (s *Scheduler) collect(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Task
	for _, task := range s.tasks {
		if task.Run == nil {
			continue
		}
		if last, ok := s.last[task.Name]; ok && now.Sub(last) < task.Interval {
			continue
		}
		s.last[task.Name] = now
		due = append(due, task)
	}
	return due
}

func (s *Scheduler) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}

// LastFired returns when the task was last attempted.
func (s *Scheduler) LastFired(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.last[name]
	return ts, ok
}

// Trigger marks a task as never fired so it runs on the next RunDue.
func (s *Scheduler) Trigger(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, name)
}
