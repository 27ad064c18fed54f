package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/chat-bridge/internal/openaiapi"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func baseOptions() Options {
	return Options{
		Mode:          ModeDirectChat,
		Target:        TargetA,
		TargetModelID: "claude-sonnet-4-20250514",
		SessionID:     "sess-1",
		MessageID:     "msg-1",
	}
}

func TestTranslate_DirectChatAssignsSystemToB(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleSystem, Content: rawString("be terse")},
			{Role: openaiapi.RoleUser, Content: rawString("hello")},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 2)
	assert.Equal(t, "b", payload.MessageTemplates[0].Participant)
	assert.Equal(t, "a", payload.MessageTemplates[1].Participant)
}

func TestTranslate_BattleModeAssignsAllToTarget(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleSystem, Content: rawString("be terse")},
			{Role: openaiapi.RoleUser, Content: rawString("hello")},
		},
	}
	opt := baseOptions()
	opt.Mode = ModeBattle
	opt.Target = TargetB
	payload, err := Translate(req, opt)
	require.NoError(t, err)
	for _, tpl := range payload.MessageTemplates {
		assert.Equal(t, "b", tpl.Participant)
	}
}

func TestTranslate_DeveloperRoleNormalizedToSystem(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleDeveloper, Content: rawString("follow the rules")},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 1)
	assert.Equal(t, openaiapi.RoleSystem, payload.MessageTemplates[0].Role)
}

func TestTranslate_AssistantPrefillExtractedWhenEnabled(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: rawString("hi")},
			{Role: openaiapi.RoleAssistant, Content: rawString("Sure, here's")},
		},
	}
	opt := baseOptions()
	opt.PrefillEnabled = true
	payload, err := Translate(req, opt)
	require.NoError(t, err)
	assert.Equal(t, "Sure, here's", payload.AssistantPrefill)
	require.Len(t, payload.MessageTemplates, 1)
	assert.Equal(t, openaiapi.RoleUser, payload.MessageTemplates[0].Role)
}

func TestTranslate_AssistantPrefillDemotedToUserWhenDisabled(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: rawString("hi")},
			{Role: openaiapi.RoleAssistant, Content: rawString("Sure, here's")},
		},
	}
	opt := baseOptions()
	opt.PrefillEnabled = false
	payload, err := Translate(req, opt)
	require.NoError(t, err)
	assert.Empty(t, payload.AssistantPrefill)
	require.Len(t, payload.MessageTemplates, 2)
	assert.Equal(t, openaiapi.RoleUser, payload.MessageTemplates[1].Role)
	assert.Equal(t, "Sure, here's", payload.MessageTemplates[1].Content)
}

func TestTranslate_EmptyUserContentFloored(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: rawString("   ")},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 1)
	assert.Equal(t, " ", payload.MessageTemplates[0].Content)
}

func TestTranslate_TavernModeMergesSystemTurns(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleSystem, Content: rawString("rule one")},
			{Role: openaiapi.RoleUser, Content: rawString("hi")},
			{Role: openaiapi.RoleSystem, Content: rawString("rule two")},
		},
	}
	opt := baseOptions()
	opt.TavernModeEnabled = true
	payload, err := Translate(req, opt)
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 2)
	assert.Equal(t, openaiapi.RoleSystem, payload.MessageTemplates[0].Role)
	assert.Equal(t, "rule one\n\nrule two", payload.MessageTemplates[0].Content)
	assert.Equal(t, openaiapi.RoleUser, payload.MessageTemplates[1].Role)
}

func TestTranslate_BypassModeAppendsTrailingUserTurn(t *testing.T) {
	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: rawString("hi")},
		},
	}
	opt := baseOptions()
	opt.BypassModeEnabled = true
	payload, err := Translate(req, opt)
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 2)
	last := payload.MessageTemplates[len(payload.MessageTemplates)-1]
	assert.Equal(t, openaiapi.RoleUser, last.Role)
	assert.Equal(t, " ", last.Content)
}

func TestTranslate_ImageAttachmentFromDataURI(t *testing.T) {
	parts := []openaiapi.ContentPart{
		{Type: "text", Text: "look at this"},
		{Type: "image_url", ImageURL: &openaiapi.ImageURL{URL: "data:image/png;base64,aGVsbG8="}},
	}
	b, err := json.Marshal(parts)
	require.NoError(t, err)

	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: b},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 1)
	tpl := payload.MessageTemplates[0]
	assert.Equal(t, "look at this", tpl.Content)
	require.Len(t, tpl.Attachments, 1)
	assert.Equal(t, "image/png", tpl.Attachments[0].ContentType)
	assert.NotEmpty(t, tpl.Attachments[0].Name)
}

func TestTranslate_NonDataImageURLDropped(t *testing.T) {
	parts := []openaiapi.ContentPart{
		{Type: "image_url", ImageURL: &openaiapi.ImageURL{URL: "https://example.com/cat.png"}},
	}
	b, err := json.Marshal(parts)
	require.NoError(t, err)

	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleUser, Content: b},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 1)
	assert.Empty(t, payload.MessageTemplates[0].Attachments)
}

func TestTranslate_SystemTurnAttachmentsDropped(t *testing.T) {
	parts := []openaiapi.ContentPart{
		{Type: "image_url", ImageURL: &openaiapi.ImageURL{URL: "data:image/png;base64,aGVsbG8="}},
	}
	b, err := json.Marshal(parts)
	require.NoError(t, err)

	req := &openaiapi.ChatCompletionRequest{
		Messages: []openaiapi.Message{
			{Role: openaiapi.RoleSystem, Content: b},
		},
	}
	payload, err := Translate(req, baseOptions())
	require.NoError(t, err)
	require.Len(t, payload.MessageTemplates, 1)
	assert.Empty(t, payload.MessageTemplates[0].Attachments)
}

func TestSynthesizeFilename_UsesMainTypePrefix(t *testing.T) {
	name := synthesizeFilename("image/png")
	assert.Contains(t, name, "image_")
	assert.Contains(t, name, ".png")
}

func TestRandomSuffix_Length(t *testing.T) {
	s := randomSuffix(12)
	assert.Len(t, s, 12)
}
