package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
	"github.com/tailscale/hujson"
)

// FileConfig mirrors the bridge's main JSONC config file. Fields not
// present in the file keep their env-derived defaults.
type FileConfig struct {
	Port                     *int    `json:"port,omitempty"`
	StreamResponseTimeoutSec *int    `json:"streamResponseTimeoutSec,omitempty"`
	IdleRestartSeconds       *int    `json:"idleRestartSeconds,omitempty"`
	GlobalAPIKey             *string `json:"globalApiKey,omitempty"`
	GlobalSessionID          *string `json:"globalSessionId,omitempty"`
	GlobalMessageID          *string `json:"globalMessageId,omitempty"`
	GlobalFallbackEnabled    *bool   `json:"globalFallbackEnabled,omitempty"`
	DefaultUpstreamModelID   *string `json:"defaultUpstreamModelId,omitempty"`
	PrefillEnabled           *bool   `json:"prefillEnabled,omitempty"`
	TavernModeEnabled        *bool   `json:"tavernModeEnabled,omitempty"`
	BypassModeEnabled        *bool   `json:"bypassModeEnabled,omitempty"`
}

// LoadFileConfig reads path as JSONC (JSON with comments and trailing
// commas) and applies any present fields over the current env-derived
// settings. A missing file is not an error: the bridge runs on env
// defaults alone.
func LoadFileConfig(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read config file %s", path)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return errors.Wrapf(err, "parse JSONC config file %s", path)
	}

	var fc FileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return errors.Wrapf(err, "unmarshal config file %s", path)
	}

	applyFileConfig(fc)
	return nil
}

func applyFileConfig(fc FileConfig) {
	if fc.Port != nil {
		ServerPort = *fc.Port
	}
	if fc.StreamResponseTimeoutSec != nil {
		StreamResponseTimeoutSec = *fc.StreamResponseTimeoutSec
	}
	if fc.IdleRestartSeconds != nil {
		IdleRestartSeconds = *fc.IdleRestartSeconds
	}
	if fc.GlobalAPIKey != nil {
		GlobalAPIKey = *fc.GlobalAPIKey
	}
	if fc.GlobalSessionID != nil {
		GlobalSessionID = *fc.GlobalSessionID
	}
	if fc.GlobalMessageID != nil {
		GlobalMessageID = *fc.GlobalMessageID
	}
	if fc.GlobalFallbackEnabled != nil {
		GlobalFallbackEnabled = *fc.GlobalFallbackEnabled
	}
	if fc.DefaultUpstreamModelID != nil {
		DefaultUpstreamModelID = *fc.DefaultUpstreamModelID
	}
	if fc.PrefillEnabled != nil {
		PrefillEnabled = *fc.PrefillEnabled
	}
	if fc.TavernModeEnabled != nil {
		TavernModeEnabled = *fc.TavernModeEnabled
	}
	if fc.BypassModeEnabled != nil {
		BypassModeEnabled = *fc.BypassModeEnabled
	}
}

// MainConfigPath returns the conventional location of the JSONC main
// config file inside DataDir.
func MainConfigPath() string {
	return filepath.Join(DataDir, "config.jsonc")
}
