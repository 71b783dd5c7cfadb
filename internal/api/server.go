package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pancount/internal/activity"
	"pancount/internal/config"
	"pancount/internal/metrics"
	"pancount/internal/model"
)

// Controller is the counting side behind the API: the edge coordinator or
// the console monitor.
type Controller interface {
	Ledger() []model.Batch
	Statistics() model.Statistics
	DailyProduction(days int) []model.DayTotal
	ConfirmBatch(ctx context.Context, manual *int, notes string) (model.Batch, bool, error)
	ResetCurrent(ctx context.Context) error
	// ResetAll clears the in-memory ledger. Persisted batches are kept.
	ResetAll(ctx context.Context) error
	SetCalibration(ctx context.Context, on bool) error
}

type Deps struct {
	Role       string
	Control    Controller
	State      func() any
	Settings   func() any
	Metrics    *metrics.Store
	Activity   *activity.Store
	WebSockets http.Handler
}

type Server struct {
	cfg     *config.Manager
	deps    Deps
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Role       string       `json:"role"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	DeviceID   string       `json:"device_id"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	State      any          `json:"state,omitempty"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, deps: deps, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/stats/daily", s.handleDaily)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/batches/confirm", s.handleConfirm)
	mux.HandleFunc("/counter/reset", s.handleReset)
	mux.HandleFunc("/activity", s.handleActivity)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/calibration", s.handleCalibration)
	mux.HandleFunc("/admin/clear", s.handleClear)
	if s.deps.WebSockets != nil {
		mux.Handle("/ws", s.deps.WebSockets)
	}
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr, "role", deps.Role)
	}
	server := NewServer(cfg, deps, logger, version)
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
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Role:       s.deps.Role,
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		DeviceID:   cfg.Device.ID,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.deps.State != nil {
		resp.State = s.deps.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{"statistics": s.deps.Control.Statistics()}
	if s.deps.Metrics != nil {
		resp["metrics"] = s.deps.Metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	days := queryInt(r, "days", 7)
	if days <= 0 || days > 366 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	list := s.deps.Control.DailyProduction(days)
	writeJSON(w, http.StatusOK, map[string]any{"days": list, "count": len(list)})
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	list := s.deps.Control.Ledger()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": list, "count": len(list)})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Count *int   `json:"count"`
		Notes string `json:"notes"`
	}
	if !readBody(w, r, &req) {
		return
	}
	batch, ok, err := s.deps.Control.ConfirmBatch(r.Context(), req.Count, strings.TrimSpace(req.Notes))
	if err != nil {
		s.fail(w, "confirm batch", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "rejected", "reason": "count must be greater than zero"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "batch": batch})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Control.ResetCurrent(r.Context()); err != nil {
		s.fail(w, "reset counter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Activity == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []model.ActivityEntry{}, "count": 0})
		return
	}
	var list []model.ActivityEntry
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Activity.Since(ts)
	} else {
		list = s.deps.Activity.List(queryInt(r, "limit", 0))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list, "count": len(list)})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Settings != nil {
		writeJSON(w, http.StatusOK, map[string]any{"settings": s.deps.Settings()})
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{"settings": cfg.Detection})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if !readBody(w, r, &req) {
		return
	}
	var on bool
	switch model.CommandAction(strings.ToLower(strings.TrimSpace(req.Action))) {
	case model.ActionCalibrationStart:
		on = true
	case model.ActionCalibrationStop:
		on = false
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "action must be calibration_start or calibration_stop"})
		return
	}
	if err := s.deps.Control.SetCalibration(r.Context(), on); err != nil {
		s.fail(w, "set calibration", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "calibrating": on})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.deps.Metrics != nil {
			s.deps.Metrics.Clear()
		}
		if s.deps.Activity != nil {
			s.deps.Activity.Clear()
		}
	case "activity", "logs":
		if s.deps.Activity != nil {
			s.deps.Activity.Clear()
		}
	case "metrics":
		if s.deps.Metrics != nil {
			s.deps.Metrics.Clear()
		}
	case "ledger":
		if s.deps.Control == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := s.deps.Control.ResetAll(r.Context()); err != nil {
			s.fail(w, "clear ledger", err)
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Warn("api request failed", "op", op, "err", err)
	}
	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// readBody decodes an optional JSON body; an empty body leaves dst untouched.
func readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
