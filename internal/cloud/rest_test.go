package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancount/internal/command"
	"pancount/internal/config"
	"pancount/internal/model"
)

// fakeFirebase keeps records keyed by path and merges PATCH bodies.
type fakeFirebase struct {
	mu      sync.Mutex
	records map[string]any
	patches []string
	auth    []string
	delay   time.Duration
}

func newFakeFirebase() *fakeFirebase {
	return &fakeFirebase{records: map[string]any{}}
}

func (f *fakeFirebase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.URL.Query().Get("auth"))
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(f.lookup(path))
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec, _ := f.records[path].(map[string]any)
		if rec == nil {
			rec = map[string]any{}
		}
		for k, v := range fields {
			rec[k] = v
		}
		f.records[path] = rec
		f.patches = append(f.patches, path)
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeFirebase) lookup(path string) any {
	if v, ok := f.records[path]; ok {
		return v
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return nil
	}
	if parent, ok := f.records[path[:idx]].(map[string]any); ok {
		return parent[path[idx+1:]]
	}
	return nil
}

func (f *fakeFirebase) set(path string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[path] = v
}

func (f *fakeFirebase) firstAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.auth) == 0 {
		return ""
	}
	return f.auth[0]
}

func (f *fakeFirebase) record(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, _ := f.records[path].(map[string]any)
	return rec
}

func newRESTForTest(t *testing.T, fake *fakeFirebase) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store := NewRESTStore(config.CloudConfig{BaseURL: srv.URL + "/", AuthToken: "s3cret", Timeout: time.Second}, srv.Client())
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return store
}

func TestRESTActiveProduct(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	ctx := context.Background()

	_, ok, err := store.ActiveProduct(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	fake.set("activeProduction/product", "original")
	name, ok, err := store.ActiveProduct(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "original", name)
	require.Equal(t, "s3cret", fake.firstAuth())
}

func TestRESTIncrementProduction(t *testing.T) {
	fake := newFakeFirebase()
	fake.set("products/original", map[string]any{"todayProduction": 10.0, "name": "original"})
	store := newRESTForTest(t, fake)

	old, next, err := store.IncrementProduction(context.Background(), "original", 3)
	require.NoError(t, err)
	require.Equal(t, 10, old)
	require.Equal(t, 13, next)

	rec := fake.record("products/original")
	require.Equal(t, 13.0, rec["todayProduction"])
	require.Equal(t, 1_700_000_000_000.0, rec["updatedAt"])
	require.Equal(t, "original", rec["name"])
}

func TestRESTIncrementStartsFromZero(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	old, next, err := store.IncrementProduction(context.Background(), "spicy", 4)
	require.NoError(t, err)
	require.Equal(t, 0, old)
	require.Equal(t, 4, next)
}

func TestRESTCommandProcessedDefaultsTrue(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	ctx := context.Background()

	_, found, err := store.Command(ctx)
	require.NoError(t, err)
	require.False(t, found)

	fake.set("deviceCommands", map[string]any{"action": "calibration_start", "timestamp": 1_700_000_000_000.0})
	cmd, found, err := store.Command(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, cmd.Processed)
	require.Equal(t, model.ActionCalibrationStart, cmd.Action)

	fake.set("deviceCommands", map[string]any{"action": "calibration_stop", "processed": false})
	cmd, _, err = store.Command(ctx)
	require.NoError(t, err)
	require.False(t, cmd.Processed)

	require.NoError(t, store.MarkCommandProcessed(ctx))
	require.Equal(t, true, fake.record("deviceCommands")["processed"])
}

func TestRESTCommandMalformedActionIsConsumed(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	ctx := context.Background()

	fake.set("deviceCommands", map[string]any{"action": 123.0, "processed": false, "id": 7.0})
	cmd, found, err := store.Command(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, cmd.Processed)
	require.Equal(t, model.CommandAction("123"), cmd.Action)
	require.Equal(t, "7", cmd.ID)

	called := false
	consumed, err := command.NewPoller(store, nil).Poll(ctx, func(context.Context, model.CommandAction) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, consumed)
	require.False(t, called)
	require.Equal(t, true, fake.record("deviceCommands")["processed"])
}

func TestRESTCommandNonObjectSlot(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)

	fake.set("deviceCommands", "calibration_start")
	_, found, err := store.Command(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestRESTStatusAndStop(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	ctx := context.Background()
	temp := 51.5
	err := store.PushStatus(ctx, model.DeviceStatus{
		Status:       model.StatusRunning,
		LastSeen:     time.UnixMilli(1_700_000_000_500),
		CurrentCount: 4,
		FramesTotal:  120,
		CPUTemp:      &temp,
	})
	require.NoError(t, err)
	rec := fake.record("edgeDevice")
	require.Equal(t, "running", rec["status"])
	require.Equal(t, 4.0, rec["currentCount"])
	require.Equal(t, 120.0, rec["framesTotal"])
	require.Equal(t, 51.5, rec["cpuTemp"])

	require.NoError(t, store.SetStopped(ctx))
	rec = fake.record("edgeDevice")
	require.Equal(t, "stopped", rec["status"])
	require.Equal(t, 1_700_000_000_000.0, rec["lastSeen"])
}

func TestRESTDeviceSettings(t *testing.T) {
	fake := newFakeFirebase()
	store := newRESTForTest(t, fake)
	got, err := store.DeviceSettings(context.Background())
	require.NoError(t, err)
	require.Nil(t, got)

	fake.set("deviceSettings", map[string]any{"threshold": 120.0, "powerSaveMode": true})
	got, err = store.DeviceSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 120.0, got["threshold"])
}

func TestRESTTimeoutAndStatusErrors(t *testing.T) {
	fake := newFakeFirebase()
	fake.delay = 200 * time.Millisecond
	srv := httptest.NewServer(fake)
	defer srv.Close()
	store := NewRESTStore(config.CloudConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	_, _, err := store.ActiveProduct(context.Background())
	require.Error(t, err)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "permission denied", http.StatusUnauthorized)
	}))
	defer bad.Close()
	store = NewRESTStore(config.CloudConfig{BaseURL: bad.URL, Timeout: time.Second}, bad.Client())
	err = store.PushStatus(context.Background(), model.DeviceStatus{Status: model.StatusRunning})
	require.ErrorContains(t, err, "401")
}

type stubStore struct {
	Store
	name string
	ok   bool
	err  error
}

func (s stubStore) ActiveProduct(context.Context) (string, bool, error) { return s.name, s.ok, s.err }

func TestProductCacheKeepsValueOnError(t *testing.T) {
	c := NewProductCache(nil)
	require.NoError(t, c.Refresh(context.Background(), stubStore{name: "original", ok: true}))
	require.Error(t, c.Refresh(context.Background(), stubStore{err: io.ErrUnexpectedEOF}))
	name, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, "original", name)

	require.NoError(t, c.Refresh(context.Background(), stubStore{}))
	_, ok = c.Get()
	require.False(t, ok)
}
