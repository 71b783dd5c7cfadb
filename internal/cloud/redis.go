package cloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"pancount/internal/config"
	"pancount/internal/model"
)

// RedisStore keeps the same records as the REST backend, one key per path:
// the active product is a string and the other records are hashes.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(cfg config.CloudConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return &RedisStore{client: client, prefix: cfg.Redis.Prefix, now: time.Now}, nil
}

func (s *RedisStore) key(path string) string {
	return redisKey(s.prefix, path)
}

func redisKey(prefix, path string) string {
	k := strings.ReplaceAll(path, "/", ":")
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}

func (s *RedisStore) ActiveProduct(ctx context.Context) (string, bool, error) {
	name, err := s.client.Get(ctx, s.key(pathActiveProduct)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	name = strings.TrimSpace(name)
	return name, name != "", nil
}

func (s *RedisStore) IncrementProduction(ctx context.Context, product string, delta int) (int, int, error) {
	key := s.key(pathProducts + "/" + product)
	raw, err := s.client.HGet(ctx, key, "todayProduction").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	old := 0
	if raw != "" {
		f, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("todayProduction for %s: %w", product, perr)
		}
		old = int(f)
	}
	next := old + delta
	if err := s.client.HSet(ctx, key, map[string]interface{}{
		"todayProduction": next,
		"updatedAt":       millis(s.now()),
	}).Err(); err != nil {
		return old, old, err
	}
	return old, next, nil
}

func (s *RedisStore) PushStatus(ctx context.Context, status model.DeviceStatus) error {
	return s.client.HSet(ctx, s.key(pathEdgeDevice), statusRecord(status)).Err()
}

func (s *RedisStore) SetStopped(ctx context.Context) error {
	return s.client.HSet(ctx, s.key(pathEdgeDevice), stoppedRecord(s.now())).Err()
}

func (s *RedisStore) DeviceSettings(ctx context.Context) (map[string]any, error) {
	h, err := s.client.HGetAll(ctx, s.key(pathSettings)).Result()
	if err != nil {
		return nil, err
	}
	return settingsFromHash(h), nil
}

func (s *RedisStore) Command(ctx context.Context) (model.DeviceCommand, bool, error) {
	h, err := s.client.HGetAll(ctx, s.key(pathCommands)).Result()
	if err != nil {
		return model.DeviceCommand{}, false, err
	}
	cmd, ok := commandFromHash(h)
	return cmd, ok, nil
}

func (s *RedisStore) MarkCommandProcessed(ctx context.Context) error {
	return s.client.HSet(ctx, s.key(pathCommands), "processed", "true").Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func settingsFromHash(h map[string]string) map[string]any {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func commandFromHash(h map[string]string) (model.DeviceCommand, bool) {
	if len(h) == 0 {
		return model.DeviceCommand{}, false
	}
	cmd := model.DeviceCommand{
		ID:        h["id"],
		Action:    model.CommandAction(strings.TrimSpace(h["action"])),
		Processed: true,
	}
	if v, ok := h["processed"]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cmd.Processed = b
		}
	}
	if v := strings.TrimSpace(h["timestamp"]); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil {
			cmd.Timestamp = fromMillis(int64(ms))
		}
	}
	return cmd, true
}
