package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cabm-chat/backend/internal/character"
	"cabm-chat/backend/internal/memory"
	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

// CharacterHandler serves profile listing, switching and image lookup.
type CharacterHandler struct {
	characters *character.Service
	memories   *memory.Store
	log        *logger.Logger
}

// NewCharacterHandler builds a CharacterHandler.
func NewCharacterHandler(characters *character.Service, memories *memory.Store, log *logger.Logger) *CharacterHandler {
	return &CharacterHandler{characters: characters, memories: memories, log: log}
}

// List handles GET /api/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"characters": h.characters.List(),
		"current":    h.characters.CurrentID(),
	})
}

// Select handles POST /api/characters/:id, switching the active
// character.
func (h *CharacterHandler) Select(c *gin.Context) {
	id := c.Param("id")
	profile, err := h.characters.SetCurrent(id)
	if err != nil {
		c.Error(apperrors.NewNotFoundError(err.Error()))
		return
	}
	h.log.Info("active character switched", "character", id)

	count, err := h.memories.CountForCharacter(c.Request.Context(), id)
	if err != nil {
		// Memory stats are cosmetic here; the switch itself succeeded.
		h.log.Warn("failed to count memories", "character", id, "error", err.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"character": profile,
		"memories":  count,
	})
}

// Images handles GET /api/characters/:id/images.
func (h *CharacterHandler) Images(c *gin.Context) {
	id := c.Param("id")
	images, err := h.characters.ListImages(id)
	if err != nil {
		c.Error(apperrors.NewNotFoundError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "images": images})
}
