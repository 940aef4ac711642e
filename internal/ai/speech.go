package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"cabm-chat/backend/pkg/logger"
)

// SpeechConfig holds the endpoints for the voice round trip.
type SpeechConfig struct {
	TTSURL  string
	STTURL  string
	APIKey  string
	Timeout time.Duration
}

// SpeechClient synthesizes character speech and transcribes user audio
// against external voice services.
type SpeechClient struct {
	cfg    SpeechConfig
	client *http.Client
	log    *logger.Logger
}

// NewSpeechClient builds a SpeechClient.
func NewSpeechClient(cfg SpeechConfig, log *logger.Logger) *SpeechClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SpeechClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Synthesize renders text as audio in the given voice role and returns
// the raw audio bytes with their content type.
func (c *SpeechClient) Synthesize(ctx context.Context, text, voiceRole string) ([]byte, string, error) {
	if c.cfg.TTSURL == "" {
		return nil, "", fmt.Errorf("tts endpoint not configured")
	}

	q := url.Values{}
	q.Set("text", text)
	if voiceRole != "" {
		q.Set("voice", voiceRole)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TTSURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build tts request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("tts endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tts audio: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads recorded audio and returns the recognized text.
func (c *SpeechClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if c.cfg.STTURL == "" {
		return "", fmt.Errorf("stt endpoint not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.STTURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build stt request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stt endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	return parsed.Text, nil
}
