package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/internal/prompt"
	"github.com/hupe1980/streamchat/model"
	"github.com/hupe1980/streamchat/sse"
)

const (
	msgGenerationFailed = "failed to generate response"
	msgEmptyResponse    = "the model returned an empty response"
)

type chatRequest struct {
	Message        *string `json:"message"`
	ConversationID *string `json:"conversationId"`
	UserID         string  `json:"user_id"`
}

// handleChat streams one assistant reply as event frames.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == nil || strings.TrimSpace(*req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be a non-empty string"})
		return
	}

	if err := s.limiter.acquire(); err != nil {
		s.logger.Warn("Chat request rejected", "user_id", req.UserID, "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer s.limiter.release()

	ctx := c.Request.Context()
	message := *req.Message
	s.logger.Info("Chat request", "user_id", req.UserID, "has_conversation", req.ConversationID != nil)

	history := s.loadHistory(ctx, req)
	concepts := s.concepts(ctx, message)

	out, errs := s.model.Generate(ctx, model.Request{
		Instructions: s.instructions(req.UserID, concepts),
		Messages:     append(history, core.NewUserMessage(message)),
		Stream:       true,
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := sse.NewEncoder(c.Writer)

	var answer strings.Builder
	for resp := range out {
		text := resp.Text
		if !resp.Partial {
			if resp.Usage != nil {
				s.logger.Debug("Generation usage", "total_tokens", resp.Usage.TotalTokens)
			}
			// A non-streaming model only delivers the final aggregate.
			if answer.Len() > 0 || text == "" {
				continue
			}
		}
		if text == "" {
			continue
		}
		answer.WriteString(text)
		if err := enc.WriteDelta(text); err != nil {
			s.logger.Warn("Client went away during stream", "error", err.Error())
			drain(out, errs)
			return
		}
	}

	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			s.logger.Info("Chat stream cancelled by client")
			return
		}
		s.logger.Error("Generation failed", "error", err.Error())
		_ = enc.WriteError(msgGenerationFailed)
		return
	}

	if answer.Len() == 0 {
		s.logger.Error("Generation returned empty response")
		_ = enc.WriteError(msgEmptyResponse)
		return
	}

	references := s.references(ctx, answer.String())
	if err := enc.WriteMetadata(concepts, references); err != nil {
		s.logger.Warn("Metadata frame not delivered", "error", err.Error())
		return
	}
	s.logger.Info("Chat response streamed", "user_id", req.UserID, "concepts", len(concepts), "references", len(references))
}

// loadHistory returns the prior transcript of the requested conversation.
// Failures are logged and the reply is generated without history.
func (s *Server) loadHistory(ctx context.Context, req chatRequest) []core.Message {
	if s.store == nil || req.ConversationID == nil || *req.ConversationID == "" {
		return nil
	}
	conv, err := s.store.Get(ctx, *req.ConversationID)
	if err != nil {
		s.logger.Warn("History not loaded", "conversation_id", *req.ConversationID, "error", err.Error())
		return nil
	}
	if req.UserID != "" && conv.OwnerID != req.UserID {
		s.logger.Warn("History owner mismatch", "conversation_id", conv.ID, "user_id", req.UserID)
		return nil
	}
	return conv.Messages
}

func (s *Server) concepts(ctx context.Context, query string) []core.Concept {
	if s.retrieval == nil {
		return nil
	}
	concepts, err := s.retrieval.Concepts(ctx, query, s.config.MaxResults)
	if err != nil {
		s.logger.Warn("Concept retrieval failed", "error", err.Error())
		return nil
	}
	for i := range concepts {
		concepts[i].Description = truncate(concepts[i].Description, s.config.DescriptionLimit)
	}
	return concepts
}

func (s *Server) references(ctx context.Context, text string) []core.Reference {
	if s.retrieval == nil {
		return nil
	}
	refs, err := s.retrieval.References(ctx, text, s.config.ReferenceLimit)
	if err != nil {
		s.logger.Warn("Reference retrieval failed", "error", err.Error())
		return nil
	}
	return refs
}

// instructions renders the system prompt. A broken template is logged and
// sent verbatim.
func (s *Server) instructions(userID string, concepts []core.Concept) string {
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		names = append(names, c.Name)
	}
	text, err := prompt.Render(s.config.SystemPrompt, map[string]any{
		"concepts": names,
		"user_id":  userID,
	})
	if err != nil {
		s.logger.Warn("System prompt not rendered", "error", err.Error())
		return s.config.SystemPrompt
	}
	return text
}

// truncate cuts s to limit runes and marks the cut with "...".
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// drain consumes the remaining output of an abandoned generation.
func drain(out <-chan model.Response, errs <-chan error) {
	go func() {
		for range out {
		}
		<-errs
	}()
}
