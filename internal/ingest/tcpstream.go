package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"pancount/internal/config"
)

// StartTCPStream listens for newline-delimited detection records.
func StartTCPStream(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, sink, logger)
		}
	}()
	return ln
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	defer conn.Close()
	// each connection keeps its own CSV header state
	local := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		fields, err := local.ParseLine(scanner.Text())
		if err != nil || fields == nil {
			continue
		}
		_ = deliver(cfg, fields, "tcp_stream", sink, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
