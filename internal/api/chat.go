package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/internal/character"
	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

// sessionIDKey is set by the session middleware when a valid session
// token accompanies the request.
const sessionIDKey = "chat_session_id"

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	orch       *chat.Orchestrator
	sessions   *chat.Registry
	characters *character.Service
	log        *logger.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(orch *chat.Orchestrator, sessions *chat.Registry, characters *character.Service, log *logger.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, sessions: sessions, characters: characters, log: log}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// session resolves the conversation this request belongs to: an
// authenticated session token wins, then an explicit session_id in the
// body, then the shared default session.
func (h *ChatHandler) session(c *gin.Context, bodyID string) *chat.Session {
	if id, ok := c.Get(sessionIDKey); ok {
		if s, ok := id.(string); ok && s != "" {
			return h.sessions.Get(s)
		}
	}
	if bodyID != "" {
		return h.sessions.Get(bodyID)
	}
	return h.sessions.Default()
}

// Stream handles POST /api/chat/stream: it relays the assistant reply
// over SSE fragment by fragment, then the follow-up options and the
// terminal marker.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	sess := h.session(c, req.SessionID)
	turn, err := h.orch.Run(c.Request.Context(), sess, req.Message)
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-turn.Events():
			if !ok {
				return false
			}
			if _, err := io.WriteString(w, ev.SSE()); err != nil {
				return false
			}
			return ev.Type != chat.EventTerminal
		case <-clientGone:
			return false
		}
	})
}

type chatResponse struct {
	Success  bool     `json:"success"`
	Response string   `json:"response"`
	Options  []string `json:"options,omitempty"`
}

// Chat handles POST /api/chat: the same pipeline as Stream, delivered
// as a single JSON body once the turn completes.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	sess := h.session(c, req.SessionID)
	turn, err := h.orch.Run(c.Request.Context(), sess, req.Message)
	if err != nil {
		c.Error(err)
		return
	}

	var reply strings.Builder
	var options []string
	var streamErr string
	for ev := range turn.Events() {
		switch ev.Type {
		case chat.EventContent:
			reply.WriteString(ev.Content)
		case chat.EventOptions:
			options = ev.Options
		case chat.EventError:
			streamErr = ev.Error
		}
	}

	// A broken stream fails the whole request. The orchestrator has
	// already discarded the partial reply from history, so handing the
	// fragments to the client here would diverge from stored state.
	if streamErr != "" {
		c.Error(apperrors.NewUpstreamFailureError(streamErr))
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Success:  true,
		Response: reply.String(),
		Options:  options,
	})
}

type clearRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Variant   string `json:"variant,omitempty"`
}

// Clear handles POST /api/clear: it resets the conversation to a fresh
// system prompt for the active character, preserving the session
// identity.
func (h *ChatHandler) Clear(c *gin.Context) {
	var req clearRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.NewInvalidInputError("invalid request body"))
			return
		}
	}

	profile := h.characters.Current()
	variant := req.Variant
	if variant == "" {
		variant = character.DefaultVariant
	}
	prompt, err := profile.SystemPrompt(variant)
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	sess := h.session(c, req.SessionID)
	sess.Clear(variant, prompt)
	h.log.Info("conversation cleared", "session", sess.ID(), "variant", variant)

	c.JSON(http.StatusOK, gin.H{"success": true})
}
