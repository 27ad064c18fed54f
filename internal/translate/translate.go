// Package translate converts an OpenAI-style chat-completion request into
// the upstream's message-template payload: role normalization,
// assistant-prefill extraction, attachment splitting, and the optional
// tavern/bypass transforms.
package translate

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"mime"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/openaiapi"
	"github.com/arenabridge/chat-bridge/internal/wsproto"
)

// Mode mirrors the credential pool's per-model page layout.
type Mode string

const (
	ModeDirectChat Mode = "direct_chat"
	ModeBattle     Mode = "battle"
)

// Target is the battle-mode assistant slot a message is attributed to.
type Target string

const (
	TargetA Target = "a"
	TargetB Target = "b"
)

// Options carries the per-call settings that affect translation: the
// credential pool's mode/target for the resolved model, and the process
// config toggles for prefill/tavern/bypass.
type Options struct {
	Mode   Mode
	Target Target

	PrefillEnabled    bool
	TavernModeEnabled bool
	BypassModeEnabled bool

	TargetModelID    string
	SessionID        string
	MessageID        string
	IsAuto           bool
}

var dataURIPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.*)$`)

const keyChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomSuffix(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyChars))))
		if err != nil {
			// crypto/rand failing is unrecoverable for this process.
			panic(errors.Wrap(err, "generate random attachment suffix"))
		}
		buf[i] = keyChars[idx.Int64()]
	}
	return string(buf)
}

// turn is an intermediate, role-normalized representation of one incoming
// message before participant positions are assigned.
type turn struct {
	role        string
	text        string
	attachments []wsproto.Attachment
}

// Translate applies the full transform pipeline and returns the upstream
// payload ready to send over the duplex socket.
func Translate(req *openaiapi.ChatCompletionRequest, opt Options) (wsproto.OutboundPayload, error) {
	turns, err := splitMessages(req.Messages)
	if err != nil {
		return wsproto.OutboundPayload{}, errors.Wrap(err, "split messages into turns")
	}

	// Step 1: role normalization (developer -> system) happens in splitMessages.

	// Step 2: assistant prefill extraction.
	var prefill string
	if n := len(turns); n > 0 && turns[n-1].role == openaiapi.RoleAssistant {
		if opt.PrefillEnabled {
			prefill = turns[n-1].text
			turns = turns[:n-1]
		} else {
			turns[n-1].role = openaiapi.RoleUser
		}
	}

	// Step 4: empty-content floor for user turns (assistant prefill may stay empty).
	for i := range turns {
		if turns[i].role == openaiapi.RoleUser && strings.TrimSpace(turns[i].text) == "" {
			turns[i].text = " "
		}
	}

	// Step 5: tavern mode.
	if opt.TavernModeEnabled {
		turns = mergeSystemTurns(turns)
	}

	// Step 6: bypass mode.
	if opt.BypassModeEnabled {
		turns = append(turns, turn{role: openaiapi.RoleUser, text: " "})
	}

	templates := assignParticipants(turns, opt)

	return wsproto.OutboundPayload{
		MessageTemplates: templates,
		TargetModelID:    opt.TargetModelID,
		SessionID:        opt.SessionID,
		MessageID:        opt.MessageID,
		AssistantPrefill: prefill,
		IsAuto:           opt.IsAuto,
	}, nil
}

// splitMessages decodes each message's content (string or part-list),
// normalizing developer->system and splitting list-form content into text
// plus attachments.
func splitMessages(messages []openaiapi.Message) ([]turn, error) {
	turns := make([]turn, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == openaiapi.RoleDeveloper {
			role = openaiapi.RoleSystem
		}

		text, attachments, err := splitContent(m.Content)
		if err != nil {
			return nil, errors.Wrap(err, "split message content")
		}
		turns = append(turns, turn{role: role, text: text, attachments: attachments})
	}
	return turns, nil
}

// splitContent decodes a Message.Content raw value, which is either a bare
// JSON string or a list of ContentPart objects.
func splitContent(raw json.RawMessage) (string, []wsproto.Attachment, error) {
	if len(raw) == 0 {
		return "", nil, nil
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil, nil
	}

	var parts []openaiapi.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil, errors.Wrap(err, "content is neither a string nor a part list")
	}

	var texts []string
	var attachments []wsproto.Attachment
	for _, part := range parts {
		switch part.Type {
		case "text":
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			att, ok := attachmentFromImageURL(*part.ImageURL)
			if !ok {
				continue
			}
			attachments = append(attachments, att)
		}
	}

	return strings.Join(texts, "\n\n"), attachments, nil
}

// attachmentFromImageURL converts one image_url part into an attachment,
// dropping non-data URLs with a warning.
func attachmentFromImageURL(img openaiapi.ImageURL) (wsproto.Attachment, bool) {
	m := dataURIPattern.FindStringSubmatch(img.URL)
	if m == nil {
		config.Logger.Warn("dropping non-data image_url attachment", zap.String("url", truncateForLog(img.URL)))
		return wsproto.Attachment{}, false
	}
	contentType := m[1]

	name := strings.TrimSpace(img.Detail)
	if name == "" {
		name = synthesizeFilename(contentType)
	}

	return wsproto.Attachment{Name: name, ContentType: contentType, URL: img.URL}, true
}

func truncateForLog(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// synthesizeFilename builds prefix_suffix.ext from a MIME type when the
// caller didn't supply a detail string to use as the filename.
func synthesizeFilename(contentType string) string {
	mainType := strings.SplitN(contentType, "/", 2)[0]
	var prefix string
	switch mainType {
	case "image":
		prefix = "image"
	case "audio":
		prefix = "audio"
	default:
		prefix = "file"
	}

	ext := ".bin"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}

	return prefix + "_" + randomSuffix(12) + ext
}

// mergeSystemTurns concatenates all system turns (in order) into one
// leading system turn, dropping the originals; non-system turn order is
// preserved.
func mergeSystemTurns(turns []turn) []turn {
	var systemTexts []string
	rest := make([]turn, 0, len(turns))
	for _, t := range turns {
		if t.role == openaiapi.RoleSystem {
			systemTexts = append(systemTexts, t.text)
			continue
		}
		rest = append(rest, t)
	}
	if len(systemTexts) == 0 {
		return rest
	}
	merged := turn{role: openaiapi.RoleSystem, text: strings.Join(systemTexts, "\n\n")}
	return append([]turn{merged}, rest...)
}

// assignParticipants determines each turn's participantPosition per the
// (mode, target) rule.
func assignParticipants(turns []turn, opt Options) []wsproto.MessageTemplate {
	templates := make([]wsproto.MessageTemplate, 0, len(turns))
	for _, t := range turns {
		var position string
		switch opt.Mode {
		case ModeBattle:
			position = string(opt.Target)
		default: // direct_chat
			if t.role == openaiapi.RoleSystem {
				position = string(TargetB)
			} else {
				position = string(TargetA)
			}
		}

		attachments := t.attachments
		if t.role == openaiapi.RoleSystem {
			attachments = nil
		}

		templates = append(templates, wsproto.MessageTemplate{
			Role:        t.role,
			Content:     t.text,
			Participant: position,
			Attachments: attachments,
		})
	}
	return templates
}
