package store

import (
	"context"
	"log/slog"
	"sync"
)

// Cache is the lazily opened, shared database handle. A handle is either
// fully open or absent; Invalidate is the only way to drop it.
type Cache struct {
	path string
	open func(ctx context.Context, path string) (*DB, error)

	mu sync.Mutex
	db *DB
}

// NewCache returns a cache that opens path on first use.
func NewCache(path string) *Cache {
	return &Cache{path: path, open: Open}
}

// Open returns the cached handle, opening it if needed.
func (c *Cache) Open(ctx context.Context) (*DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := c.open(ctx, c.path)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

// Current returns the cached handle, or nil when none is open.
func (c *Cache) Current() *DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Invalidate closes and drops the cached handle so the next Open starts
// fresh. It is safe to call when nothing is open.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Warn("[STORE] close after invalidate failed", "error", err)
	}
	slog.Info("[STORE] handle invalidated")
}

// Close releases the handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
