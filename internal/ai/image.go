package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/pkg/resilience"
)

// ImageConfig holds the endpoint settings for scene generation.
type ImageConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Size    string
	Timeout time.Duration
}

// ImageClient asks an image model for a fresh background scene. The
// call is slow and optional, so it sits behind a circuit breaker.
type ImageClient struct {
	cfg     ImageConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewImageClient builds an ImageClient.
func NewImageClient(cfg ImageConfig, log *logger.Logger) *ImageClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	return &ImageClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.New(resilience.DefaultConfig("image-generator"), log),
		log:     log,
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate produces a background image for the prompt and returns its
// URL.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", fmt.Errorf("image endpoint not configured")
	}

	var out string
	err := c.breaker.Execute(func() error {
		url, err := c.generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = url
		return nil
	})
	return out, err
}

func (c *ImageClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(imageRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Size:   c.cfg.Size,
		N:      1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("image endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return "", fmt.Errorf("image response had no data")
	}
	return parsed.Data[0].URL, nil
}
