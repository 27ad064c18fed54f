package config

import (
	"os"
	"strconv"
	"strings"
)

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

var (
	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = envBool("DEBUG", false)

	// ServerPort is the port the bridge's HTTP server listens on.
	ServerPort = envInt("PORT", 4102)

	// DataDir holds the directory containing the JSONC main config and the
	// JSON-backed catalog/pool/key-registry files.
	DataDir = envString("BRIDGE_DATA_DIR", "./data")

	// StreamResponseTimeoutSec bounds how long the stream parser waits for
	// the next frame on a request's queue before declaring a timeout error.
	StreamResponseTimeoutSec = envInt("STREAM_RESPONSE_TIMEOUT", 360)

	// IdleRestartSeconds is the idle threshold after which the lifecycle
	// supervisor restarts the process. -1 disables the check.
	IdleRestartSeconds = envInt("IDLE_RESTART_SECONDS", -1)

	// IdlePollIntervalSec is how often the supervisor checks for the idle
	// threshold having been crossed.
	IdlePollIntervalSec = envInt("IDLE_POLL_INTERVAL_SECONDS", 10)

	// CooldownDurationSec is the auto-fallback cooldown window applied to a
	// model after it is observed rate-limited.
	CooldownDurationSec = envInt("AUTO_FALLBACK_COOLDOWN_SECONDS", 3600)

	// GlobalAPIKey, when set, bypasses the API-key registry with full
	// access to every model.
	GlobalAPIKey = envString("GLOBAL_API_KEY", "")

	// GlobalSessionID / GlobalMessageID are the fallback credential pair
	// used when a requested model has no pool entry of its own. Both must
	// be set for the fallback to be eligible.
	GlobalSessionID = envString("GLOBAL_SESSION_ID", "")
	GlobalMessageID = envString("GLOBAL_MESSAGE_ID", "")

	// GlobalFallbackEnabled gates whether the global session/message pair
	// above may be used at all.
	GlobalFallbackEnabled = envBool("GLOBAL_FALLBACK_ENABLED", false)

	// DefaultUpstreamModelID is used when a requested model name is absent
	// from the catalog.
	DefaultUpstreamModelID = envString("DEFAULT_UPSTREAM_MODEL_ID", "claude-sonnet-4-20250514")

	// PrefillEnabled controls whether a trailing assistant message is
	// extracted as an assistant-prefill instead of being rewritten to a
	// user turn.
	PrefillEnabled = envBool("PREFILL_ENABLED", true)

	// TavernModeEnabled merges all system messages into one leading system
	// turn.
	TavernModeEnabled = envBool("TAVERN_MODE_ENABLED", false)

	// BypassModeEnabled appends a no-op user turn to defeat an upstream
	// filter.
	BypassModeEnabled = envBool("BYPASS_MODE_ENABLED", false)
)
