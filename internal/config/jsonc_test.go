package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileConfig_MissingFileIsNotError(t *testing.T) {
	err := LoadFileConfig(filepath.Join(t.TempDir(), "does-not-exist.jsonc"))
	assert.NoError(t, err)
}

func TestLoadFileConfig_ParsesCommentsAndTrailingCommas(t *testing.T) {
	oldPort := ServerPort
	oldPrefill := PrefillEnabled
	defer func() {
		ServerPort = oldPort
		PrefillEnabled = oldPrefill
	}()

	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `{
		// listen port
		"port": 9100,
		"prefillEnabled": false, // trailing comma below
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	require.NoError(t, LoadFileConfig(path))
	assert.Equal(t, 9100, ServerPort)
	assert.False(t, PrefillEnabled)
}

func TestApplyFileConfig_OmittedFieldsLeaveDefaultsUntouched(t *testing.T) {
	oldTavern := TavernModeEnabled
	defer func() { TavernModeEnabled = oldTavern }()
	TavernModeEnabled = true

	applyFileConfig(FileConfig{})
	assert.True(t, TavernModeEnabled)
}

func TestMainConfigPath_JoinsDataDir(t *testing.T) {
	old := DataDir
	DataDir = "/tmp/bridge-data"
	defer func() { DataDir = old }()

	assert.Equal(t, "/tmp/bridge-data/config.jsonc", MainConfigPath())
}
