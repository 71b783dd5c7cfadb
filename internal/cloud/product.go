package cloud

import (
	"context"
	"log/slog"
	"sync"
)

// ProductCache holds the last known active product. A failed refresh keeps
// the previous value.
type ProductCache struct {
	mu     sync.RWMutex
	name   string
	known  bool
	logger *slog.Logger
}

func NewProductCache(logger *slog.Logger) *ProductCache {
	return &ProductCache{logger: logger}
}

func (c *ProductCache) Refresh(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	name, ok, err := store.ActiveProduct(ctx)
	if err != nil {
		return err
	}
	c.set(name, ok)
	return nil
}

func (c *ProductCache) set(name string, ok bool) {
	c.mu.Lock()
	prev, prevKnown := c.name, c.known
	c.name, c.known = name, ok
	c.mu.Unlock()
	if c.logger == nil || (prev == name && prevKnown == ok) {
		return
	}
	if ok {
		c.logger.Info("active product changed", "old", prev, "new", name)
	} else {
		c.logger.Info("no active product", "old", prev)
	}
}

func (c *ProductCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name, c.known
}
