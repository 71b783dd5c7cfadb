package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"pancount/internal/config"
)

// StartFileTail follows detector log files, reopening them after rotation.
func StartFileTail(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, sink, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	parser := NewParser()
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// only skip history on the first open
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				// keep a partial line for the next read
				if len(line) > 0 {
					if _, serr := file.Seek(-int64(len(line)), io.SeekCurrent); serr == nil {
						reader.Reset(file)
					}
				}
				if !BackoffSleep(ctx, 200*time.Millisecond) {
					_ = file.Close()
					return
				}
				info, statErr := os.Stat(path)
				if statErr == nil && info.Size() < offset {
					_ = file.Close()
					file = nil
					break
				}
				continue
			}
			if err != nil {
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			fields, perr := parser.ParseLine(line)
			if perr != nil || fields == nil {
				continue
			}
			_ = deliver(cfg, fields, "file_tail", sink, logger)
		}
	}
}
