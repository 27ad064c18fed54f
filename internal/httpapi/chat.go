package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/openaiapi"
	"github.com/arenabridge/chat-bridge/internal/orchestrator"
)

// ChatCompletions handles POST /v1/chat/completions.
func (s *Server) ChatCompletions(c *gin.Context) {
	var req openaiapi.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.Wrap(err, "decode chat completion request"))
		return
	}
	if req.Model == "" {
		abortWithError(c, errors.New("missing required field: model"))
		return
	}

	bearer := bearerToken(c)
	keyRec, err := orchestrator.Authenticate(s.Deps, bearer, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}

	cred, err := orchestrator.ResolveCredentials(s.Deps, req.Model)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Usage is counted exactly once per successful dispatch, after
	// authentication and before translation.
	if keyRec != nil {
		if err := s.Deps.Keys.RecordUsage(keyRec.Key, time.Now()); err != nil {
			gmw.GetLogger(c).Warn("failed to record API key usage", zap.Error(err))
		}
	}

	completionID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	createdAt := time.Now().Unix()

	if req.WantsStream() {
		s.streamChat(c, &req, cred, completionID, createdAt)
		return
	}
	s.aggregateChat(c, &req, cred, completionID, createdAt)
}

func (s *Server) streamChat(c *gin.Context, req *openaiapi.ChatCompletionRequest, cred orchestrator.ResolvedCredentials, id string, created int64) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, canFlush := writer.(interface{ Flush() })

	roleSent := false
	writeChunk := func(delta openaiapi.Delta, finish *string) {
		chunk := openaiapi.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []openaiapi.ChunkChoice{{Index: 0, Delta: &delta, FinishReason: finish}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(writer, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	}

	err := orchestrator.Run(c.Request.Context(), s.Deps, req, cred, func(ev orchestrator.OutputEvent) {
		switch ev.Kind {
		case orchestrator.OutputContent:
			delta := openaiapi.Delta{Content: ev.Content}
			if !roleSent {
				delta.Role = openaiapi.RoleAssistant
				roleSent = true
			}
			writeChunk(delta, nil)
		case orchestrator.OutputFinish:
			reason := ev.FinishReason
			if reason == "content-filter" {
				writeChunk(openaiapi.Delta{Content: orchestrator.ContentFilterSuffix}, nil)
			}
			writeChunk(openaiapi.Delta{}, &reason)
		}
	})

	if err != nil {
		gmw.GetLogger(c).Warn("chat stream ended with error", zap.Error(err))
		msg := err.Error()
		writeChunk(openaiapi.Delta{Content: "\n\n[bridge error: " + msg + "]"}, strPtr("stop"))
	}

	fmt.Fprint(writer, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

func strPtr(s string) *string { return &s }

func (s *Server) aggregateChat(c *gin.Context, req *openaiapi.ChatCompletionRequest, cred orchestrator.ResolvedCredentials, id string, created int64) {
	var b strings.Builder
	finishReason := "stop"

	err := orchestrator.Run(c.Request.Context(), s.Deps, req, cred, func(ev orchestrator.OutputEvent) {
		switch ev.Kind {
		case orchestrator.OutputContent:
			b.WriteString(ev.Content)
		case orchestrator.OutputFinish:
			finishReason = ev.FinishReason
			if finishReason == "content-filter" {
				b.WriteString(orchestrator.ContentFilterSuffix)
			}
		}
	})

	if err != nil {
		if f, ok := orchestrator.AsFailure(err); ok && f.Kind == orchestrator.KindAttachmentTooLarge {
			c.JSON(413, errorResponse(f.Message, "attachment_too_large"))
			return
		}
		abortWithError(c, errors.Wrap(err, "run chat completion"))
		return
	}

	resp := openaiapi.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []openaiapi.ChunkChoice{{
			Index:        0,
			Message:      &openaiapi.Msg{Role: openaiapi.RoleAssistant, Content: b.String()},
			FinishReason: &finishReason,
		}},
	}
	c.JSON(200, resp)
}

// Models handles GET /v1/models. Never increments usage.
func (s *Server) Models(c *gin.Context) {
	bearer := bearerToken(c)
	var allow []string
	if bearer != config.GlobalAPIKey || config.GlobalAPIKey == "" {
		rec, ok := s.Deps.Keys.Lookup(bearer)
		if !ok && config.GlobalAPIKey == "" {
			abortWithError(c, errors.New("invalid or disabled API key"))
			return
		}
		if ok {
			allow = rec.AllowModels
		}
	}

	names := s.Deps.Catalog.List()
	data := make([]openaiapi.Model, 0, len(names))
	for _, name := range names {
		if len(allow) > 0 && !contains(allow, name) {
			continue
		}
		data = append(data, openaiapi.Model{ID: name, Object: "model", Created: 0, OwnedBy: "arena-bridge"})
	}

	c.JSON(200, openaiapi.ModelList{Object: "list", Data: data})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
