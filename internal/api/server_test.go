package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancount/internal/activity"
	"pancount/internal/config"
	"pancount/internal/counter"
	"pancount/internal/metrics"
	"pancount/internal/model"
)

// counterControl drives a BatchCounter directly, standing in for the
// coordinator loop.
type counterControl struct {
	bc          *counter.BatchCounter
	calibrating *bool
	now         time.Time
}

func (c *counterControl) Ledger() []model.Batch { return c.bc.Ledger().List() }

func (c *counterControl) Statistics() model.Statistics { return c.bc.Ledger().Statistics(c.now) }

func (c *counterControl) DailyProduction(days int) []model.DayTotal {
	return c.bc.Ledger().DailyProduction(c.now, days)
}

func (c *counterControl) ConfirmBatch(_ context.Context, manual *int, notes string) (model.Batch, bool, error) {
	b, ok := c.bc.ConfirmBatchWithNotes(manual, notes)
	return b, ok, nil
}

func (c *counterControl) ResetCurrent(context.Context) error {
	c.bc.ResetCurrent()
	return nil
}

func (c *counterControl) ResetAll(context.Context) error {
	c.bc.ResetAll()
	return nil
}

func (c *counterControl) SetCalibration(_ context.Context, on bool) error {
	*c.calibrating = on
	return nil
}

type harness struct {
	srv         *httptest.Server
	bc          *counter.BatchCounter
	act         *activity.Store
	met         *metrics.Store
	calibrating bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pancount.yaml")
	require.NoError(t, config.Save(path, config.DefaultConfig()))
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	opts := counter.DefaultOptions()
	opts.Now = func() time.Time { return now }
	h := &harness{
		bc:  counter.NewBatchCounter(opts, nil),
		act: activity.NewStore(10),
		met: metrics.NewStore(),
	}
	ctl := &counterControl{bc: h.bc, calibrating: &h.calibrating, now: now}
	srv := NewServer(mgr, Deps{
		Role:     "edge",
		Control:  ctl,
		State:    func() any { return h.bc.State() },
		Metrics:  h.met,
		Activity: h.act,
	}, nil, "test")
	h.srv = httptest.NewServer(srv.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	h.bc.Update(4)
	code, body = h.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "edge", body["role"])
	require.Equal(t, "edge-01", body["device_id"])
	state := body["state"].(map[string]any)
	require.Equal(t, float64(4), state["stable"])

	code, _ = h.do(t, http.MethodPost, "/status", "")
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestConfirmFlow(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/batches/confirm", "")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "rejected", body["status"])

	code, body = h.do(t, http.MethodPost, "/batches/confirm", `{"count": 12, "notes": " late tray "}`)
	require.Equal(t, http.StatusOK, code)
	batch := body["batch"].(map[string]any)
	require.Equal(t, float64(12), batch["count"])
	require.Equal(t, "late tray", batch["notes"])

	code, _ = h.do(t, http.MethodPost, "/batches/confirm", `{"count": -1}`)
	require.Equal(t, http.StatusConflict, code)

	code, _ = h.do(t, http.MethodPost, "/batches/confirm", `{bad`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodGet, "/batches?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["count"])

	code, body = h.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)
	today := body["statistics"].(map[string]any)["today"].(map[string]any)
	require.Equal(t, float64(12), today["production"])

	code, body = h.do(t, http.MethodGet, "/stats/daily?days=3", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(3), body["count"])
}

func TestResetAndCalibration(t *testing.T) {
	h := newHarness(t)
	h.bc.Update(6)
	code, _ := h.do(t, http.MethodPost, "/counter/reset", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0, h.bc.State().Stable)

	code, _ = h.do(t, http.MethodPost, "/calibration", `{"action":"calibration_start"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, h.calibrating)

	code, _ = h.do(t, http.MethodPost, "/calibration", `{"action":"reboot"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.True(t, h.calibrating)
}

func TestActivityAndClear(t *testing.T) {
	h := newHarness(t)
	h.act.Logf(activity.LevelInfo, "one")
	h.act.Logf(activity.LevelWarn, "two")
	h.met.Inc("frames")

	code, body := h.do(t, http.MethodGet, "/activity?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	require.Equal(t, "two", entries[0].(map[string]any)["message"])

	code, _ = h.do(t, http.MethodGet, "/activity?since=yesterday", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/admin/clear", `{"target":"activity"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0, h.act.Len())
	require.Equal(t, uint64(1), h.met.Counter("frames"))

	code, _ = h.do(t, http.MethodPost, "/admin/clear", `{"target":"everything"}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestClearLedger(t *testing.T) {
	h := newHarness(t)
	four, two := 4, 2
	_, ok := h.bc.ConfirmBatch(&four)
	require.True(t, ok)
	h.met.Inc("frames")

	code, _ := h.do(t, http.MethodPost, "/admin/clear", `{"target":"all"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, h.bc.Ledger().Len())

	code, _ = h.do(t, http.MethodPost, "/admin/clear", `{"target":"ledger"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0, h.bc.Ledger().Len())

	b, ok := h.bc.ConfirmBatch(&two)
	require.True(t, ok)
	require.Equal(t, 2, b.ID)
}

func TestSettingsFallsBackToConfig(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, code)
	settings := body["settings"].(map[string]any)
	require.Equal(t, float64(127), settings["threshold"])
}
