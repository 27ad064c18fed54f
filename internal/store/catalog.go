// Package store implements the bridge's disk-backed process singletons:
// the model catalog, the per-model credential pool, and the API-key
// registry. All three use a coarse read-modify-write-then-persist policy;
// none of it needs transactional semantics because mutation is user-rate,
// not request-rate.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/arenabridge/chat-bridge/internal/config"
)

// Catalog maps an external model name to the upstream model ID the
// credential replay actually targets.
type Catalog struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// NewCatalog loads path if present; a missing file yields an empty catalog,
// which is a valid state.
func NewCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path, data: make(map[string]string)}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read catalog file %s", c.path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Wrapf(json.Unmarshal(raw, &c.data), "unmarshal catalog file %s", c.path)
}

func (c *Catalog) save() error {
	c.mu.RLock()
	raw, err := json.MarshalIndent(c.data, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshal catalog")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrapf(err, "create catalog directory for %s", c.path)
	}
	return errors.Wrapf(os.WriteFile(c.path, raw, 0o644), "write catalog file %s", c.path)
}

// Resolve looks up name in the catalog; on a miss it falls back to the
// configured default upstream model ID and logs a warning.
func (c *Catalog) Resolve(name string) string {
	c.mu.RLock()
	id, ok := c.data[name]
	c.mu.RUnlock()
	if ok {
		return id
	}
	config.Logger.Warn("model not in catalog, using default upstream id",
		zap.String("model", name), zap.String("default", config.DefaultUpstreamModelID))
	return config.DefaultUpstreamModelID
}

// List returns a snapshot of all known model names (for /v1/models).
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.data))
	for name := range c.data {
		names = append(names, name)
	}
	return names
}

// ReplaceDiff merges updates into the catalog and persists it, used by the
// /update_models endpoint which extracts {publicName -> upstream id} pairs
// from the arena site's embedded initial-state JSON.
func (c *Catalog) ReplaceDiff(updates map[string]string) error {
	c.mu.Lock()
	for name, id := range updates {
		c.data[name] = id
	}
	c.mu.Unlock()
	return c.save()
}
