// Package infocache keeps looked-up species descriptions in memory and mirrors
// them to a JSON file so a restart does not query Wikipedia again.
//
// The file holds an array of [species, info] pairs in insertion order:
//
//	[["Acer macrophyllum", {"text": "...", "image": "...", "url": "..."}]]
package infocache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"treemap/metrics"
)

// Info is the cached description of one species.
type Info struct {
	Text  string `json:"text"`
	Image string `json:"image"`
	URL   string `json:"url"`
}

// Cache maps species names to Info. It is safe for concurrent use.
type Cache struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Info
	order   []string

	saveMu sync.Mutex
	group  singleflight.Group
}

// Open loads the cache file at path. A missing or unreadable file yields an
// empty cache; the failure is only logged. An empty path keeps the cache in
// memory.
func Open(path string, logger zerolog.Logger) *Cache {
	c := &Cache{path: path, logger: logger, entries: make(map[string]Info)}
	if path == "" {
		return c
	}
	if err := c.load(); err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("could not load info cache")
		return c
	}
	logger.Debug().Int("entries", len(c.order)).Str("path", path).Msg("loaded info cache")
	return c
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("decode %s: %w", c.path, err)
	}
	for i, p := range pairs {
		var key string
		var info Info
		if err := json.Unmarshal(p[0], &key); err != nil {
			return fmt.Errorf("decode %s: entry %d key: %w", c.path, i, err)
		}
		if err := json.Unmarshal(p[1], &info); err != nil {
			return fmt.Errorf("decode %s: entry %d: %w", c.path, i, err)
		}
		c.put(key, info)
	}
	return nil
}

func (c *Cache) put(key string, info Info) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = info
}

// Get returns the cached info for key.
func (c *Cache) Get(key string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[key]
	return info, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrFetch returns the cached info for key, calling fetch on a miss.
// Concurrent misses for the same key share one fetch. A successful fetch is
// stored and written to the file; a failed one is not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (Info, error)) (Info, error) {
	if info, ok := c.Get(key); ok {
		metrics.RecordCacheLookup("hit")
		return info, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if info, ok := c.Get(key); ok {
			return info, nil
		}
		info, err := fetch(ctx)
		if err != nil {
			return Info{}, err
		}
		c.mu.Lock()
		c.put(key, info)
		c.mu.Unlock()
		c.save()
		return info, nil
	})
	if err != nil {
		metrics.RecordCacheLookup("error")
		return Info{}, err
	}
	metrics.RecordCacheLookup("miss")
	return v.(Info), nil
}

// save rewrites the file through a temporary file and rename, so a crash never
// leaves a truncated cache behind.
func (c *Cache) save() {
	if c.path == "" {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	pairs := make([][2]any, 0, len(c.order))
	for _, key := range c.order {
		pairs = append(pairs, [2]any{key, c.entries[key]})
	}
	c.mu.RUnlock()

	if err := writeFile(c.path, pairs); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("could not save info cache")
	}
}

func writeFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
