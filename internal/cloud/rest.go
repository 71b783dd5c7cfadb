package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pancount/internal/config"
	"pancount/internal/model"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTStore speaks the Firebase realtime database REST dialect: every record
// lives at {base}/{path}.json and partial updates use PATCH.
type RESTStore struct {
	base    string
	token   string
	timeout time.Duration
	client  HTTPClient
	now     func() time.Time
}

func NewRESTStore(cfg config.CloudConfig, client HTTPClient) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTStore{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		timeout: timeout,
		client:  client,
		now:     time.Now,
	}
}

func (s *RESTStore) url(path string) string {
	u := s.base + "/" + path + ".json"
	if s.token != "" {
		u += "?auth=" + url.QueryEscape(s.token)
	}
	return u
}

// get decodes the record at path into out. A JSON null reports false.
func (s *RESTStore) get(ctx context.Context, path string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(path), nil)
	if err != nil {
		return false, err
	}
	body, err := s.do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *RESTStore) patch(ctx context.Context, path string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.url(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := s.do(req); err != nil {
		return fmt.Errorf("patch %s: %w", path, err)
	}
	return nil
}

func (s *RESTStore) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func productPath(name string) string {
	return pathProducts + "/" + url.PathEscape(name)
}

func (s *RESTStore) ActiveProduct(ctx context.Context) (string, bool, error) {
	var name string
	found, err := s.get(ctx, pathActiveProduct, &name)
	if err != nil || !found {
		return "", false, err
	}
	name = strings.TrimSpace(name)
	return name, name != "", nil
}

func (s *RESTStore) IncrementProduction(ctx context.Context, product string, delta int) (int, int, error) {
	var current float64
	if _, err := s.get(ctx, productPath(product)+"/todayProduction", &current); err != nil {
		return 0, 0, err
	}
	old := int(current)
	next := old + delta
	err := s.patch(ctx, productPath(product), map[string]any{
		"todayProduction": next,
		"updatedAt":       millis(s.now()),
	})
	if err != nil {
		return old, old, err
	}
	return old, next, nil
}

func (s *RESTStore) PushStatus(ctx context.Context, status model.DeviceStatus) error {
	return s.patch(ctx, pathEdgeDevice, statusRecord(status))
}

func (s *RESTStore) SetStopped(ctx context.Context) error {
	return s.patch(ctx, pathEdgeDevice, stoppedRecord(s.now()))
}

func (s *RESTStore) DeviceSettings(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if _, err := s.get(ctx, pathSettings, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTStore) Command(ctx context.Context) (model.DeviceCommand, bool, error) {
	var raw json.RawMessage
	found, err := s.get(ctx, pathCommands, &raw)
	if err != nil || !found {
		return model.DeviceCommand{}, false, err
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		// not an object, nothing to run
		return model.DeviceCommand{}, false, nil
	}
	return commandFromRecord(rec), true, nil
}

// commandFromRecord reads the slot field by field. A non-string action is
// kept in its printed form so the poller consumes and rejects it.
func commandFromRecord(rec map[string]any) model.DeviceCommand {
	// a slot without the flag is treated as already handled
	cmd := model.DeviceCommand{Processed: true}
	switch v := rec["processed"].(type) {
	case bool:
		cmd.Processed = v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cmd.Processed = b
		}
	}
	switch v := rec["action"].(type) {
	case nil:
	case string:
		cmd.Action = model.CommandAction(strings.TrimSpace(v))
	default:
		cmd.Action = model.CommandAction(fmt.Sprint(v))
	}
	switch v := rec["id"].(type) {
	case string:
		cmd.ID = v
	case float64:
		cmd.ID = strconv.FormatFloat(v, 'f', -1, 64)
	}
	switch v := rec["timestamp"].(type) {
	case float64:
		cmd.Timestamp = fromMillis(int64(v))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cmd.Timestamp = fromMillis(int64(f))
		}
	}
	return cmd
}

func (s *RESTStore) MarkCommandProcessed(ctx context.Context) error {
	return s.patch(ctx, pathCommands, map[string]any{"processed": true})
}

func (s *RESTStore) Close() error { return nil }
