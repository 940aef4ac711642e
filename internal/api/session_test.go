package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/pkg/jwt"
)

func TestSessionCreateAndResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := quietLogger()

	tokens := jwt.NewService("test-secret", time.Hour)
	sessions := chat.NewRegistry()
	characters := testCharacters(t)
	t.Cleanup(func() { characters.Close() })

	handler := NewSessionHandler(tokens, sessions, characters, log)

	engine := gin.New()
	engine.Use(SessionMiddleware(tokens))
	engine.POST("/api/session", handler.Create)
	engine.GET("/whoami", func(c *gin.Context) {
		id, _ := c.Get(sessionIDKey)
		c.JSON(http.StatusOK, gin.H{"session_id": id})
	})

	// Mint a session.
	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Token)

	// The new session starts with the character's system prompt.
	sess := sessions.Get(created.SessionID)
	require.Equal(t, 1, sess.Len())
	assert.Equal(t, chat.RoleSystem, sess.History()[0].Role)

	// The token resolves back to the same session.
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var who struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &who))
	assert.Equal(t, created.SessionID, who.SessionID)
}

func TestSessionMiddlewareIgnoresBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := jwt.NewService("test-secret", time.Hour)

	engine := gin.New()
	engine.Use(SessionMiddleware(tokens))
	engine.GET("/whoami", func(c *gin.Context) {
		_, ok := c.Get(sessionIDKey)
		c.JSON(http.StatusOK, gin.H{"resolved": ok})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Resolved bool `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Resolved)
}
