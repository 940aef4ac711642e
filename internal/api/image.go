package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cabm-chat/backend/internal/ai"
	"cabm-chat/backend/internal/character"
	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

// ImageHandler serves background scene generation.
type ImageHandler struct {
	images     *ai.ImageClient
	characters *character.Service
	log        *logger.Logger
}

// NewImageHandler builds an ImageHandler.
func NewImageHandler(images *ai.ImageClient, characters *character.Service, log *logger.Logger) *ImageHandler {
	return &ImageHandler{images: images, characters: characters, log: log}
}

type backgroundRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

// Background handles POST /api/background: it generates a fresh scene
// image, defaulting the prompt to the active character's setting.
func (h *ImageHandler) Background(c *gin.Context) {
	var req backgroundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.NewInvalidInputError("invalid request body"))
			return
		}
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		profile := h.characters.Current()
		if profile == nil {
			c.Error(apperrors.NewInvalidInputError("prompt is required"))
			return
		}
		prompt = fmt.Sprintf("Anime style background scene fitting this setting: %s. No people.", profile.Description)
	}

	url, err := h.images.Generate(c.Request.Context(), prompt)
	if err != nil {
		c.Error(apperrors.NewUpstreamFailureError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}
