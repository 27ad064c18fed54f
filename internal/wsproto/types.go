// Package wsproto defines the JSON message shapes exchanged over the
// duplex socket between the bridge and the userscript running in the
// browser.
package wsproto

import "encoding/json"

// OutboundPayload is the request descriptor sent to the browser so it can
// replay the call inside the logged-in arena page.
type OutboundPayload struct {
	MessageTemplates []MessageTemplate `json:"messageTemplates"`
	TargetModelID    string            `json:"targetModelId"`
	SessionID        string            `json:"sessionId"`
	MessageID        string            `json:"messageId"`
	AssistantPrefill string            `json:"assistantPrefill,omitempty"`
	IsAuto           bool              `json:"isAuto"`
}

// MessageTemplate is one upstream chat turn produced by the payload
// translator.
type MessageTemplate struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Participant string       `json:"participantPosition"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one data-URI derived file carried alongside a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// OutboundMessage is a `{request_id, payload}` frame from the bridge to
// the browser.
type OutboundMessage struct {
	RequestID string          `json:"request_id"`
	Payload   OutboundPayload `json:"payload"`
}

// Command covers the no-correlation command forms: reconnect, refresh,
// activate_id_capture, and switch_model.
type Command struct {
	Command       string `json:"command"`
	RequestID     string `json:"request_id,omitempty"`
	NewSessionID  string `json:"new_session_id,omitempty"`
	NewMessageID  string `json:"new_message_id,omitempty"`
	NewModelID    string `json:"new_model_id,omitempty"`
}

const (
	CommandReconnect          = "reconnect"
	CommandRefresh            = "refresh"
	CommandActivateIDCapture  = "activate_id_capture"
	CommandSwitchModel        = "switch_model"
)

// InboundMessage is a `{request_id, data}` frame from the browser. Data is
// decoded lazily by streamparse since its shape is a tagged union
// (string | []string | "[DONE]" | control object).
type InboundMessage struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}
