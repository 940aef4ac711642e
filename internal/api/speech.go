package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cabm-chat/backend/internal/ai"
	"cabm-chat/backend/internal/character"
	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

// SpeechHandler serves the voice endpoints.
type SpeechHandler struct {
	speech     *ai.SpeechClient
	characters *character.Service
	log        *logger.Logger
}

// NewSpeechHandler builds a SpeechHandler.
func NewSpeechHandler(speech *ai.SpeechClient, characters *character.Service, log *logger.Logger) *SpeechHandler {
	return &SpeechHandler{speech: speech, characters: characters, log: log}
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize handles POST /api/tts: it renders text as audio in the
// active character's voice and returns the raw bytes.
func (h *SpeechHandler) Synthesize(c *gin.Context) {
	var req ttsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.Error(apperrors.NewInvalidInputError("text must not be empty"))
		return
	}

	voice := req.Voice
	if voice == "" {
		if profile := h.characters.Current(); profile != nil {
			voice = profile.VoiceRole
		}
	}

	audio, contentType, err := h.speech.Synthesize(c.Request.Context(), req.Text, voice)
	if err != nil {
		c.Error(apperrors.NewUpstreamFailureError(err.Error()))
		return
	}
	c.Data(http.StatusOK, contentType, audio)
}

// Transcribe handles POST /api/mic: it accepts a recorded audio upload
// and returns the recognized text.
func (h *SpeechHandler) Transcribe(c *gin.Context) {
	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		c.Error(apperrors.NewInvalidInputError("audio file is required"))
		return
	}
	defer file.Close()

	text, err := h.speech.Transcribe(c.Request.Context(), file, header.Filename)
	if err != nil {
		c.Error(apperrors.NewUpstreamFailureError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "text": text})
}
