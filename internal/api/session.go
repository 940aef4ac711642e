package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cabm-chat/backend/internal/character"
	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/pkg/jwt"
	"cabm-chat/backend/pkg/logger"
)

// SessionHandler mints session tokens so multiple clients can hold
// independent conversations against the same server.
type SessionHandler struct {
	tokens     *jwt.Service
	sessions   *chat.Registry
	characters *character.Service
	log        *logger.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(tokens *jwt.Service, sessions *chat.Registry, characters *character.Service, log *logger.Logger) *SessionHandler {
	return &SessionHandler{tokens: tokens, sessions: sessions, characters: characters, log: log}
}

// Create handles POST /api/session: it allocates a fresh conversation
// seeded with the active character's system prompt and returns a token
// identifying it.
func (h *SessionHandler) Create(c *gin.Context) {
	id := uuid.New().String()
	sess := h.sessions.Get(id)

	if profile := h.characters.Current(); profile != nil {
		if prompt, err := profile.SystemPrompt(character.DefaultVariant); err == nil {
			sess.Clear(character.DefaultVariant, prompt)
		}
	}

	token, err := h.tokens.GenerateToken(id)
	if err != nil {
		h.log.LogError(err, "failed to mint session token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"session_id": id,
		"token":      token,
	})
}

// SessionMiddleware resolves an optional bearer token to a session id.
// Requests without a token fall through to the shared default session,
// matching the single-user desktop deployment.
func SessionMiddleware(tokens *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			// An invalid token is treated as anonymous rather than
			// rejected; the session token is a convenience, not auth.
			c.Next()
			return
		}
		c.Set(sessionIDKey, claims.SessionID)
		c.Next()
	}
}
