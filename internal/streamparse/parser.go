// Package streamparse implements the incremental parser that converts the
// arena site's ad-hoc chunked wire format into a sequence of OpenAI-style
// events. It is expressed as a pull function (Parser.Next) rather than a
// generator, since Go has no native coroutine/yield construct.
package streamparse

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
)

// EventKind tags the sum type a Parser yields.
type EventKind int

const (
	EventContent EventKind = iota
	EventFinish
	EventError
	EventRateLimit
	EventSwitchNeeded
)

// ErrorKind classifies an EventError for the orchestrator's HTTP-status
// mapping.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorAttachmentTooLarge
	ErrorCloudflareChallenge
	ErrorTimeout
)

// Event is one item of the output sequence the parser yields.
type Event struct {
	Kind EventKind

	Content string // EventContent

	FinishReason string // EventFinish

	ErrorMessage string    // EventError
	ErrorKind    ErrorKind // EventError

	ModelID       string // EventRateLimit, optional
	OriginalError string // EventRateLimit, optional
}

// FrameReader is the minimal interface Parser needs from a request's
// inbound queue. hub.Queue satisfies it structurally.
type FrameReader interface {
	Recv(ctx context.Context, timeout time.Duration) (json.RawMessage, error)
}

var (
	// contentRe matches one complete content frame: `[ab]0:"<json-escaped text>"`.
	contentRe = regexp.MustCompile(`[ab]0:"((?:[^"\\]|\\.)*)"`)
	// finishMarkerRe locates the start of a finish frame so its JSON object
	// can be brace-matched (finishReason objects are not guaranteed flat).
	finishMarkerRe = regexp.MustCompile(`[ab]d:\{`)
	// errorObjectMarkerRe locates a bare error object embedded directly in a
	// string/list fragment, outside any [ab]0:/[ab]d: tag.
	errorObjectMarkerRe = regexp.MustCompile(`\{\s*"error"`)
)

const doneSentinel = "[DONE]"

// cloudflareChallengeMarkers are substrings of the upstream's human-
// verification interstitial page.
var cloudflareChallengeMarkers = []string{"Just a moment...", "Enable JavaScript and cookies"}

// Parser incrementally scans the rolling buffer filled by the frames that
// Next pulls from its reader. It is not safe for concurrent use; exactly one reader per request
// is assumed.
type Parser struct {
	reader  FrameReader
	timeout time.Duration

	buf strings.Builder

	// consumed is the prefix length of buf already scanned and emitted, so
	// repeated scans don't re-match already-yielded content.
	consumed int

	finishEmitted      bool
	errorEmitted       bool
	firstContentSeen   bool
	done               bool
	pendingEvents      []Event
}

// New builds a Parser that pulls frames from reader, timing out a Recv
// call after timeout (default 360s, supplied by the caller).
func New(reader FrameReader, timeout time.Duration) *Parser {
	return &Parser{reader: reader, timeout: timeout}
}

// Reset clears the rolling buffer and per-stream flags, returning the
// Parser to the state New leaves it in. The orchestrator does not call it:
// at a switch_model boundary it constructs a fresh Parser instead.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.consumed = 0
	p.finishEmitted = false
	p.errorEmitted = false
	p.firstContentSeen = false
	p.pendingEvents = nil
}

// Next returns the next event, or (Event{}, false, nil) once the stream
// has reached its [DONE] terminator. An error return is fatal to the
// request; the caller should not call Next again.
func (p *Parser) Next(ctx context.Context) (Event, bool, error) {
	for {
		if len(p.pendingEvents) > 0 {
			ev := p.pendingEvents[0]
			p.pendingEvents = p.pendingEvents[1:]
			if ev.Kind == EventContent {
				p.firstContentSeen = true
			}
			return ev, true, nil
		}
		if p.done {
			return Event{}, false, nil
		}

		raw, err := p.reader.Recv(ctx, p.timeout)
		if err != nil {
			return Event{}, false, errors.Wrap(err, "receive next frame")
		}

		if stop, ev, hasEv, err := p.ingest(raw); err != nil {
			return Event{}, false, err
		} else if stop {
			if hasEv {
				return ev, true, nil
			}
			p.done = true
			return Event{}, false, nil
		}
		// No terminal condition: loop back to drain pendingEvents / pull more.
	}
}

// ingest decodes one raw frame and folds it into the buffer/scan state.
// It returns stop=true when the caller should treat the stream as over
// (either [DONE] or a fatal event was produced synchronously).
func (p *Parser) ingest(raw json.RawMessage) (stop bool, ev Event, hasEv bool, err error) {
	// Try the literal end marker / plain string fragment first.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == doneSentinel {
			return true, Event{}, false, nil
		}
		p.appendAndScan(s)
		return false, Event{}, false, nil
	}

	// Try a list of string fragments.
	var fragments []string
	if err := json.Unmarshal(raw, &fragments); err == nil {
		for _, f := range fragments {
			if f == doneSentinel {
				return true, Event{}, false, nil
			}
			p.appendAndScan(f)
		}
		return false, Event{}, false, nil
	}

	// Otherwise it must be a control object.
	var ctrl map[string]any
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		return false, Event{}, false, errors.Wrap(err, "decode frame: not string, []string, or object")
	}

	if rl, _ := ctrl["rate_limit_detected"].(bool); rl {
		ev := Event{Kind: EventRateLimit}
		if m, ok := ctrl["model_id"].(string); ok {
			ev.ModelID = m
		}
		if oe, ok := ctrl["original_error"].(string); ok {
			ev.OriginalError = oe
		}
		return true, ev, true, nil
	}

	if rawErr, ok := ctrl["error"]; ok {
		msg := stringifyControlError(rawErr)
		return true, classifyError(msg), true, nil
	}

	// Unrecognized control object: ignored, not fatal.
	return false, Event{}, false, nil
}

func stringifyControlError(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// classifyError maps a raw upstream error message to a friendlier
// ErrorKind.
func classifyError(msg string) Event {
	lower := strings.ToLower(msg)
	if strings.Contains(msg, "413") || strings.Contains(lower, "too large") {
		return Event{Kind: EventError, ErrorKind: ErrorAttachmentTooLarge, ErrorMessage: msg}
	}
	for _, marker := range cloudflareChallengeMarkers {
		if strings.Contains(msg, marker) {
			return Event{Kind: EventError, ErrorKind: ErrorCloudflareChallenge, ErrorMessage: msg}
		}
	}
	return Event{Kind: EventError, ErrorKind: ErrorGeneric, ErrorMessage: msg}
}

// appendAndScan appends a raw text fragment to the buffer and scans for
// any now-complete content/finish matches, then for a bare error object
// embedded directly in the fragment text (not wrapped in a [ab]0:/[ab]d:
// tag), then (only before the first content event has fired) for the
// inline "429 Too Many Requests" side-channel rate limit.
//
// Restricting the inline check to before the first content event avoids
// misreading an assistant reply that later echoes "429 Too Many Requests"
// verbatim as a rate limit once real content is already flowing.
func (p *Parser) appendAndScan(fragment string) {
	p.buf.WriteString(fragment)
	full := p.buf.String()

	for {
		unscanned := full[p.consumed:]
		loc := contentRe.FindStringSubmatchIndex(unscanned)
		if loc == nil {
			break
		}
		quoted := unscanned[loc[2]:loc[3]]
		var decoded string
		if err := json.Unmarshal([]byte(`"`+quoted+`"`), &decoded); err != nil {
			// Malformed escape sequence in a still-partial match; wait for
			// more data rather than emit garbage.
			break
		}
		p.consumed += loc[1]
		p.pendingEvents = append(p.pendingEvents, Event{Kind: EventContent, Content: decoded})
	}

	if !p.finishEmitted {
		if loc := finishMarkerRe.FindStringIndex(full); loc != nil {
			if obj, ok := extractBalancedObject(full, loc[1]-1); ok {
				var payload struct {
					FinishReason string `json:"finishReason"`
				}
				if err := json.Unmarshal([]byte(obj), &payload); err == nil {
					p.finishEmitted = true
					p.pendingEvents = append(p.pendingEvents, Event{Kind: EventFinish, FinishReason: payload.FinishReason})
				}
			}
		}
	}

	if !p.errorEmitted {
		if loc := errorObjectMarkerRe.FindStringIndex(full); loc != nil {
			if obj, ok := extractBalancedObject(full, loc[0]); ok {
				var payload struct {
					Error json.RawMessage `json:"error"`
				}
				if err := json.Unmarshal([]byte(obj), &payload); err == nil && len(payload.Error) > 0 {
					var rawErr any
					if err := json.Unmarshal(payload.Error, &rawErr); err == nil {
						p.errorEmitted = true
						p.pendingEvents = append(p.pendingEvents, classifyError(stringifyControlError(rawErr)))
					}
				}
			}
		}
	}

	if !p.firstContentSeen && !hasPendingContent(p.pendingEvents) {
		if strings.Contains(full, "429") && strings.Contains(full, "Too Many Requests") {
			p.pendingEvents = append(p.pendingEvents, Event{Kind: EventRateLimit})
		}
	}
}

func hasPendingContent(events []Event) bool {
	for _, e := range events {
		if e.Kind == EventContent {
			return true
		}
	}
	return false
}

// extractBalancedObject scans s starting at the opening brace index start
// and returns the substring up to its matching closing brace, honoring
// quoted strings so braces inside string values don't confuse the count.
func extractBalancedObject(s string, start int) (string, bool) {
	if start >= len(s) || s[start] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
