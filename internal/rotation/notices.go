package rotation

import "fmt"

// RotationNotice is the user-facing assistant turn emitted after a
// successful per-model credential rotation, as one assistant content
// chunk containing the "Rotation Activated" notice.
func RotationNotice(model string, newIndex, poolSize int) string {
	return fmt.Sprintf(
		"⚠️ **Rotation Activated**\n\nThe credential pair for `%s` hit a rate limit. "+
			"Rotated to endpoint %d/%d. Please resend your request.",
		model, newIndex+1, poolSize,
	)
}

// SingleEndpointNotice is shown instead of a rotation when the pool has
// only one pair, hinting that the caller should add more endpoints.
func SingleEndpointNotice(model string) string {
	return fmt.Sprintf(
		"⚠️ **Rate Limited**\n\n`%s` has only one captured endpoint, so there is nothing to rotate to. "+
			"Add more endpoints to this model's credential pool to enable automatic rotation.",
		model,
	)
}

// SwitchNotice is the visible content line emitted mid-stream when
// auto-fallback moves to the next model.
func SwitchNotice(from, to string) string {
	return fmt.Sprintf("🔄 **Auto-Claude:** `%s` is rate-limited, switching to `%s` ...", from, to)
}
