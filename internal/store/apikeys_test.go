package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRegistry_CreateAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	r, err := NewKeyRegistry(path)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	created, err := r.Create("test key", "for ci", nil, nil, now)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Key)
	assert.True(t, created.Enabled)

	rec, ok := r.Lookup(created.Key)
	require.True(t, ok)
	assert.Equal(t, "test key", rec.Name)
}

func TestKeyRegistry_CreateRejectsEmptyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	r, err := NewKeyRegistry(path)
	require.NoError(t, err)

	_, err = r.Create("   ", "", nil, nil, time.Unix(0, 0))
	assert.Error(t, err)
}

func TestKeyRegistry_LookupDisabledKeyMisses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	r, err := NewKeyRegistry(path)
	require.NoError(t, err)

	created, err := r.Create("disabled-test", "", nil, nil, time.Unix(0, 0))
	require.NoError(t, err)

	r.mu.Lock()
	r.keys[created.Key].Enabled = false
	r.mu.Unlock()

	_, ok := r.Lookup(created.Key)
	assert.False(t, ok)
}

func TestKeyRegistry_RecordUsageIncrementsCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	r, err := NewKeyRegistry(path)
	require.NoError(t, err)

	created, err := r.Create("usage-test", "", nil, nil, time.Unix(0, 0))
	require.NoError(t, err)

	now := time.Unix(1_700_000_100, 0)
	require.NoError(t, r.RecordUsage(created.Key, now))
	require.NoError(t, r.RecordUsage(created.Key, now))

	rec, ok := r.Lookup(created.Key)
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.UsageCount)
	assert.Equal(t, now.Unix(), rec.LastUsedAt)
}

func TestKeyRegistry_RecordUsageUnknownKeyErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	r, err := NewKeyRegistry(path)
	require.NoError(t, err)

	err = r.RecordUsage("does-not-exist", time.Now())
	assert.Error(t, err)
}

func TestAPIKey_AllowsEmptyListAllowsEverything(t *testing.T) {
	k := APIKey{}
	assert.True(t, k.Allows("any-model"))
}

func TestAPIKey_AllowsRestrictsToListedModels(t *testing.T) {
	k := APIKey{AllowModels: []string{"claude-sonnet-4-20250514"}}
	assert.True(t, k.Allows("claude-sonnet-4-20250514"))
	assert.False(t, k.Allows("other-model"))
}

func TestAPIKey_ExceedsCap(t *testing.T) {
	usageCap := int64(5)
	k := APIKey{UsageCap: &usageCap, UsageCount: 5}
	assert.True(t, k.ExceedsCap())

	k.UsageCount = 4
	assert.False(t, k.ExceedsCap())

	k.UsageCap = nil
	assert.False(t, k.ExceedsCap())
}
