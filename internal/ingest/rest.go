package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pancount/internal/config"
)

// RESTServer accepts detections over HTTP and answers with the detection
// parameters currently in force, so a remote detector can follow setting
// changes without its own cloud access.
type RESTServer struct {
	cfg    *config.Manager
	sink   Sink
	params func() any
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, sink Sink, params func() any, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, sink: sink, params: params, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/detections", s.handleDetections)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, sink Sink, params func() any, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(cfg, sink, params, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var objects []map[string]json.RawMessage
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &objects); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		objects = append(objects, obj)
	}

	accepted, failed := 0, 0
	for _, obj := range objects {
		fields, err := parseJSONObject(obj)
		if err == nil {
			fields.Raw = "rest"
			err = deliver(s.cfg, fields, "rest", s.sink, s.logger)
		}
		if err != nil {
			failed++
			continue
		}
		accepted++
	}

	resp := map[string]any{"accepted": accepted, "failed": failed}
	if s.params != nil {
		resp["params"] = s.params()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
