package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
)

// APIKey is one registry entry: {display name, optional description,
// optional usage cap, usage counter, enabled flag, allow-list, timestamps}.
type APIKey struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	UsageCap    *int64   `json:"usageCap,omitempty"`
	UsageCount  int64    `json:"usageCount"`
	Enabled     bool     `json:"enabled"`
	AllowModels []string `json:"allowModels,omitempty"` // empty = all models allowed
	CreatedAt   int64    `json:"createdAt"`
	LastUsedAt  int64    `json:"lastUsedAt,omitempty"`
}

// Allows reports whether model is permitted for this key. An empty
// allow-list means every model is allowed.
func (k APIKey) Allows(model string) bool {
	if len(k.AllowModels) == 0 {
		return true
	}
	for _, m := range k.AllowModels {
		if m == model {
			return true
		}
	}
	return false
}

// ExceedsCap reports whether the key has reached its configured usage cap.
func (k APIKey) ExceedsCap() bool {
	return k.UsageCap != nil && k.UsageCount >= *k.UsageCap
}

// KeyRegistry is the process-singleton API-key store.
type KeyRegistry struct {
	mu   sync.Mutex
	path string
	keys map[string]*APIKey
}

// NewKeyRegistry loads path if present; a missing file yields an empty
// registry (the global key alone may still authorize every call).
func NewKeyRegistry(path string) (*KeyRegistry, error) {
	r := &KeyRegistry{path: path, keys: make(map[string]*APIKey)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *KeyRegistry) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read API key registry file %s", r.path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Wrapf(json.Unmarshal(raw, &r.keys), "unmarshal API key registry file %s", r.path)
}

func (r *KeyRegistry) saveLocked() error {
	raw, err := json.MarshalIndent(r.keys, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal API key registry")
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrapf(err, "create API key registry directory for %s", r.path)
	}
	return errors.Wrapf(os.WriteFile(r.path, raw, 0o644), "write API key registry file %s", r.path)
}

// Lookup returns a copy of the record for key, whether it exists and is
// enabled.
func (r *KeyRegistry) Lookup(key string) (APIKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok || !rec.Enabled {
		return APIKey{}, false
	}
	return *rec, true
}

// RecordUsage increments the usage counter and last-used-at timestamp for
// key, exactly once per successful dispatch.
func (r *KeyRegistry) RecordUsage(key string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok {
		return errors.Errorf("unknown API key")
	}
	rec.UsageCount++
	rec.LastUsedAt = now.Unix()
	return r.saveLocked()
}

// Create registers a new key with a generated opaque token (display name
// required) and persists the registry, which is the only source of truth
// for issued keys.
func (r *KeyRegistry) Create(name, description string, allowModels []string, usageCap *int64, now time.Time) (APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return APIKey{}, errors.New("key display name must not be empty")
	}

	rec := &APIKey{
		Key:         generateKey(),
		Name:        name,
		Description: description,
		UsageCap:    usageCap,
		Enabled:     true,
		AllowModels: allowModels,
		CreatedAt:   now.Unix(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[rec.Key] = rec
	if err := r.saveLocked(); err != nil {
		return APIKey{}, errors.Wrap(err, "persist new API key")
	}
	return *rec, nil
}

// generateKey builds a bridge-prefixed opaque token.
func generateKey() string {
	return "bridge-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
