// Package orchestrator implements the end-to-end per-request flow:
// authenticate, resolve credentials, dispatch over the multiplexer, drive
// the stream parser, and format the HTTP response.
package orchestrator

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/hub"
	"github.com/arenabridge/chat-bridge/internal/metrics"
	"github.com/arenabridge/chat-bridge/internal/openaiapi"
	"github.com/arenabridge/chat-bridge/internal/rotation"
	"github.com/arenabridge/chat-bridge/internal/store"
	"github.com/arenabridge/chat-bridge/internal/streamparse"
	"github.com/arenabridge/chat-bridge/internal/translate"
	"github.com/arenabridge/chat-bridge/internal/wsproto"
)

// Kind classifies a Failure for the HTTP-status mapping.
type Kind int

const (
	KindAuth Kind = iota
	KindUnresolvedCredentials
	KindBrowserDisconnected
	KindAttachmentTooLarge
	KindCloudflareChallenge
	KindTimeout
	KindGeneric
)

// Failure is a typed error carrying enough information for the HTTP layer
// to pick a status code and bridge-specific error code.
type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string { return f.Message }

func fail(kind Kind, message string) error {
	return &Failure{Kind: kind, Message: message}
}

// AsFailure unwraps err into a *Failure if it is (or wraps) one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Deps bundles the process singletons a call needs. Constructed once at
// startup and shared by every request as an explicit AppState rather than
// package-level globals.
type Deps struct {
	Hub     *hub.Hub
	Catalog *store.Catalog
	Pool    *store.Pool
	Keys    *store.KeyRegistry
	Engine  *rotation.Engine

	// Activity is touched on every authenticated call so the idle
	// supervisor can track elapsed idle time.
	Activity interface{ Touch() }
}

// ResolvedCredentials is the outcome of credential resolution.
type ResolvedCredentials struct {
	Mode      translate.Mode
	Target    translate.Target
	SessionID string
	MessageID string
}

// Authenticate rejects the call if the browser is not connected, if the
// bearer key is unknown or disabled, or if the key's model allow-list
// excludes the requested model.
func Authenticate(d *Deps, bearer, model string) (*store.APIKey, error) {
	if !d.Hub.IsConnected() {
		return nil, fail(KindBrowserDisconnected, "browser not connected")
	}

	if bearer != "" && config.GlobalAPIKey != "" && bearer == config.GlobalAPIKey {
		if d.Activity != nil {
			d.Activity.Touch()
		}
		return nil, nil // global key: full access, no registry record to enforce/count
	}

	rec, ok := d.Keys.Lookup(bearer)
	if !ok {
		return nil, fail(KindAuth, "invalid or disabled API key")
	}
	if !rec.Allows(model) {
		return nil, fail(KindAuth, "model not permitted for this API key")
	}
	if rec.ExceedsCap() {
		return nil, fail(KindAuth, "API key usage cap exceeded")
	}
	if d.Activity != nil {
		d.Activity.Touch()
	}
	return &rec, nil
}

// ResolveCredentials tries the model's pool entry first, then the global
// session/message fallback, and fails with a 400-class error otherwise.
func ResolveCredentials(d *Deps, model string) (ResolvedCredentials, error) {
	if entry, ok := d.Pool.Lookup(model); ok && len(entry.Pairs) > 0 {
		pair := entry.Pairs[entry.CurrentIndex]
		return ResolvedCredentials{
			Mode:      entry.Mode,
			Target:    entry.Target,
			SessionID: pair.SessionID,
			MessageID: pair.MessageID,
		}, nil
	}

	if config.GlobalFallbackEnabled && config.GlobalSessionID != "" && config.GlobalMessageID != "" {
		return ResolvedCredentials{
			Mode:      translate.ModeDirectChat,
			SessionID: config.GlobalSessionID,
			MessageID: config.GlobalMessageID,
		}, nil
	}

	return ResolvedCredentials{}, fail(KindUnresolvedCredentials, "no credentials available for model "+model)
}

// Run drives one chat-completion call end to end, emitting events to sink
// until the stream is done or a Failure occurs, handling mid-stream
// auto-fallback switches and caller cancellation along the way.
//
// sink receives every OutputEvent in order; the caller (the HTTP handler)
// decides how to render them as SSE or as an aggregated JSON body.
func Run(ctx context.Context, d *Deps, req *openaiapi.ChatCompletionRequest, cred ResolvedCredentials, sink func(OutputEvent)) error {
	requestID := uuid.NewString()

	isAuto := req.Model == rotation.AutoModelSentinel
	targetModel := req.Model
	if isAuto {
		targetModel = d.Engine.BeginAuto(requestID, d.Catalog)
		defer d.Engine.EndAuto(requestID)
	}

	upstreamModelID := d.Catalog.Resolve(targetModel)

	queue := d.Hub.RegisterQueue(requestID)
	defer d.Hub.UnregisterQueue(requestID)

	payload, err := translate.Translate(req, translate.Options{
		Mode:              cred.Mode,
		Target:            cred.Target,
		PrefillEnabled:    config.PrefillEnabled,
		TavernModeEnabled: config.TavernModeEnabled,
		BypassModeEnabled: config.BypassModeEnabled,
		TargetModelID:     upstreamModelID,
		SessionID:         cred.SessionID,
		MessageID:         cred.MessageID,
		IsAuto:            isAuto,
	})
	if err != nil {
		return errors.Wrap(err, "translate request")
	}

	if payload.AssistantPrefill != "" {
		sink(OutputEvent{Kind: OutputContent, Content: payload.AssistantPrefill})
	}

	if err := d.Hub.Send(wsproto.OutboundMessage{RequestID: requestID, Payload: payload}); err != nil {
		return fail(KindBrowserDisconnected, "failed to dispatch request to browser")
	}

	timeout := time.Duration(config.StreamResponseTimeoutSec) * time.Second
	currentModel := targetModel

	for {
		parser := streamparse.New(queue, timeout)
		reason, switched, err := driveParser(ctx, d, requestID, currentModel, isAuto, parser, sink)
		if err != nil {
			return err
		}
		if !switched {
			_ = reason
			return nil
		}
		currentModel = reason // reason carries the new model name on switch
	}
}

// driveParser pulls events from one sub-stream (one parser instance) until
// [DONE], an error, or a rate_limit triggers rotation/fallback. On an
// auto-fallback mid-stream switch it returns switched=true and the new
// model name so Run can start a fresh parser on the same queue. The
// parser resets its buffer on a switch boundary, satisfied here by simply
// constructing a new Parser.
func driveParser(ctx context.Context, d *Deps, requestID, currentModel string, isAuto bool, parser *streamparse.Parser, sink func(OutputEvent)) (string, bool, error) {
	for {
		ev, ok, err := parser.Next(ctx)
		if err != nil {
			if errors.Is(err, hub.ErrDisconnected) {
				return "", false, fail(KindBrowserDisconnected, "browser disconnected mid-stream")
			}
			if errors.Is(err, hub.ErrQueueTimeout) {
				return "", false, fail(KindTimeout, "timed out waiting for upstream response")
			}
			return "", false, errors.Wrap(err, "parse upstream stream")
		}
		if !ok {
			return "", false, nil // [DONE]
		}

		switch ev.Kind {
		case streamparse.EventContent:
			sink(OutputEvent{Kind: OutputContent, Content: ev.Content})

		case streamparse.EventFinish:
			sink(OutputEvent{Kind: OutputFinish, FinishReason: ev.FinishReason})

		case streamparse.EventError:
			return "", false, classifyParserError(d, ev)

		case streamparse.EventRateLimit:
			if isAuto {
				switchResult := d.Engine.Switch(requestID, d.Catalog)
				sink(OutputEvent{Kind: OutputContent, Content: rotation.SwitchNotice(switchResult.From, switchResult.To)})

				newModelID := d.Catalog.Resolve(switchResult.To)
				pair, hasPair := d.Pool.CurrentPair(switchResult.To)
				cmd := wsproto.Command{
					Command:      wsproto.CommandSwitchModel,
					RequestID:    requestID,
					NewModelID:   newModelID,
				}
				if hasPair {
					cmd.NewSessionID = pair.SessionID
					cmd.NewMessageID = pair.MessageID
				}
				if err := d.Hub.Send(cmd); err != nil {
					return "", false, fail(KindBrowserDisconnected, "failed to send switch_model command")
				}
				return switchResult.To, true, nil
			}

			result, rerr := d.Pool.Rotate(currentModel)
			if rerr != nil {
				// No pool entry for this model: nothing to rotate to.
				return "", false, fail(KindGeneric, "rate limited and no credential pool entry to rotate")
			}
			if result.Rotated {
				metrics.RotationEvents.Inc()
				sink(OutputEvent{Kind: OutputContent, Content: rotation.RotationNotice(currentModel, result.NewIndex, result.PoolSize)})
			} else {
				sink(OutputEvent{Kind: OutputContent, Content: rotation.SingleEndpointNotice(currentModel)})
			}
			sink(OutputEvent{Kind: OutputFinish, FinishReason: "stop"})
			return "", false, nil
		}
	}
}

func classifyParserError(d *Deps, ev streamparse.Event) error {
	switch ev.ErrorKind {
	case streamparse.ErrorAttachmentTooLarge:
		return fail(KindAttachmentTooLarge, ev.ErrorMessage)
	case streamparse.ErrorCloudflareChallenge:
		NotifyCloudflareChallenge(d)
		return fail(KindCloudflareChallenge, ev.ErrorMessage)
	default:
		return fail(KindGeneric, ev.ErrorMessage)
	}
}

// NotifyCloudflareChallenge asks the browser to reload by sending a
// {command:'refresh'} control frame over the browser socket.
func NotifyCloudflareChallenge(d *Deps) {
	if err := d.Hub.Send(wsproto.Command{Command: wsproto.CommandRefresh}); err != nil {
		config.Logger.Warn("failed to send refresh command after cloudflare challenge", zap.Error(err))
	}
}
