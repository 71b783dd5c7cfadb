package command

import (
	"context"
	"fmt"
	"log/slog"

	"pancount/internal/model"
)

// Source is the remote single-slot command record.
type Source interface {
	Command(ctx context.Context) (model.DeviceCommand, bool, error)
	MarkCommandProcessed(ctx context.Context) error
}

// Poller reads the command slot and executes new commands at most once.
type Poller struct {
	source Source
	logger *slog.Logger
}

func NewPoller(source Source, logger *slog.Logger) *Poller {
	return &Poller{source: source, logger: logger}
}

// Poll reports whether a pending command was consumed. The slot is marked
// processed before the handler runs, so a crash mid-command never replays
// it. Handler failures are logged and not retried.
func (p *Poller) Poll(ctx context.Context, handler Handler) (bool, error) {
	if p.source == nil {
		return false, nil
	}
	cmd, found, err := p.source.Command(ctx)
	if err != nil {
		return false, fmt.Errorf("read command: %w", err)
	}
	if !found || cmd.Processed || cmd.Action == "" {
		return false, nil
	}
	if err := p.source.MarkCommandProcessed(ctx); err != nil {
		return false, fmt.Errorf("mark command processed: %w", err)
	}
	action, err := ParseAction(string(cmd.Action))
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("ignoring command", "action", cmd.Action, "err", err)
		}
		return true, nil
	}
	if p.logger != nil {
		p.logger.Info("command received", "action", action, "channel", "poll")
	}
	if err := invoke(ctx, handler, action); err != nil && p.logger != nil {
		p.logger.Error("command failed", "action", action, "err", err)
	}
	return true, nil
}
