package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Laisky/errors/v2"

	"github.com/arenabridge/chat-bridge/internal/translate"
)

// CredentialPair is one (sessionId, messageId) tuple identifying a specific
// upstream chat turn.
type CredentialPair struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// PoolEntry is the rotation state for one model name: an ordered sequence
// of credential pairs, a rotation cursor, and the page-layout mode/target
// override.
type PoolEntry struct {
	Pairs        []CredentialPair `json:"pairs"`
	CurrentIndex int              `json:"currentIndex"`
	Mode         translate.Mode   `json:"mode"`
	Target       translate.Target `json:"target,omitempty"`
}

// current returns the pair at CurrentIndex. Callers must hold Pool's lock
// indirectly via the accessor methods below; current is only used
// internally once that invariant is established.
func (e PoolEntry) current() CredentialPair {
	return e.Pairs[e.CurrentIndex]
}

// Pool is the process-singleton credential pool keyed by model name.
// Mutated only by the rotation engine and, externally, by the separate
// ID-capture tool writing the same file.
type Pool struct {
	mu      sync.Mutex
	path    string
	entries map[string]*PoolEntry
}

// NewPool loads path if present; a missing file yields an empty pool.
func NewPool(path string) (*Pool, error) {
	p := &Pool{path: path, entries: make(map[string]*PoolEntry)}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read credential pool file %s", p.path)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Wrapf(json.Unmarshal(raw, &p.entries), "unmarshal credential pool file %s", p.path)
}

func (p *Pool) saveLocked() error {
	raw, err := json.MarshalIndent(p.entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal credential pool")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return errors.Wrapf(err, "create credential pool directory for %s", p.path)
	}
	return errors.Wrapf(os.WriteFile(p.path, raw, 0o644), "write credential pool file %s", p.path)
}

// Reload re-reads the pool file from disk, picking up mutations made by
// the external ID-capture tool.
func (p *Pool) Reload() error {
	entries := make(map[string]*PoolEntry)
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.entries = entries
			p.mu.Unlock()
			return nil
		}
		return errors.Wrapf(err, "read credential pool file %s", p.path)
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return errors.Wrapf(err, "unmarshal credential pool file %s", p.path)
	}
	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
	return nil
}

// Lookup returns a copy of the entry for model, and whether it exists.
func (p *Pool) Lookup(model string) (PoolEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[model]
	if !ok {
		return PoolEntry{}, false
	}
	return *e, true
}

// CurrentPair returns the current credential pair for model, if it has a
// pool entry with at least one pair.
func (p *Pool) CurrentPair(model string) (CredentialPair, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[model]
	if !ok || len(e.Pairs) == 0 {
		return CredentialPair{}, false
	}
	return e.current(), true
}

// RotateResult reports the outcome of a rotation attempt.
type RotateResult struct {
	// Rotated is false when the pool had a single pair, in which case
	// rotation is skipped.
	Rotated      bool
	NewIndex     int
	PoolSize     int
	NewPair      CredentialPair
}

// Rotate advances model's current_index modulo its pool size and persists
// the change. It is a no-op, reported via Rotated=false, when the model
// has exactly one pair; a model with no entry or zero pairs is an error.
func (p *Pool) Rotate(model string) (RotateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[model]
	if !ok || len(e.Pairs) == 0 {
		return RotateResult{}, errors.Errorf("no credential pool entry for model %q", model)
	}
	if len(e.Pairs) == 1 {
		return RotateResult{Rotated: false, NewIndex: e.CurrentIndex, PoolSize: 1, NewPair: e.current()}, nil
	}

	e.CurrentIndex = (e.CurrentIndex + 1) % len(e.Pairs)
	if err := p.saveLocked(); err != nil {
		return RotateResult{}, errors.Wrap(err, "persist rotated credential pool")
	}
	return RotateResult{Rotated: true, NewIndex: e.CurrentIndex, PoolSize: len(e.Pairs), NewPair: e.current()}, nil
}
