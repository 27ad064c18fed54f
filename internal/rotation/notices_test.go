package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotationNotice_MentionsModelAndOneIndexedPosition(t *testing.T) {
	msg := RotationNotice("claude-sonnet-4-20250514", 2, 3)
	assert.Contains(t, msg, "claude-sonnet-4-20250514")
	assert.Contains(t, msg, "3/3")
	assert.Contains(t, msg, "Rotation Activated")
}

func TestSingleEndpointNotice_MentionsModel(t *testing.T) {
	msg := SingleEndpointNotice("claude-sonnet-4-20250514")
	assert.Contains(t, msg, "claude-sonnet-4-20250514")
	assert.Contains(t, msg, "Rate Limited")
}

func TestSwitchNotice_MentionsBothModels(t *testing.T) {
	msg := SwitchNotice("claude-opus-4-1-20250805", "claude-sonnet-4-20250514")
	assert.Contains(t, msg, "claude-opus-4-1-20250805")
	assert.Contains(t, msg, "claude-sonnet-4-20250514")
}
