package command

import (
	"log/slog"

	"pancount/internal/model"
)

// Queue hands commands from network callbacks to the goroutine that owns
// the device state.
type Queue struct {
	ch     chan model.DeviceCommand
	logger *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan model.DeviceCommand, size), logger: logger}
}

// Push never blocks; a full queue drops the command.
func (q *Queue) Push(cmd model.DeviceCommand) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		if q.logger != nil {
			q.logger.Warn("command queue full, dropping command", "action", cmd.Action, "id", cmd.ID)
		}
		return false
	}
}

func (q *Queue) C() <-chan model.DeviceCommand {
	return q.ch
}

// Drain pops everything currently queued without waiting.
func (q *Queue) Drain() []model.DeviceCommand {
	var out []model.DeviceCommand
	for {
		select {
		case cmd := <-q.ch:
			out = append(out, cmd)
		default:
			return out
		}
	}
}
