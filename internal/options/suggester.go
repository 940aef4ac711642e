package options

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/pkg/resilience"
)

const suggestionPrompt = "Based on the conversation so far, suggest short replies the user " +
	"could send next. Reply with a JSON array of strings only, no other text. " +
	"Each suggestion must be a single sentence in the user's voice."

// Config holds the upstream endpoint settings for option generation.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxOptions int
}

// Suggester produces a handful of candidate user replies after each
// assistant turn. Failures here never affect the main reply; callers
// treat an error as "no suggestions".
type Suggester struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewSuggester builds a Suggester. The circuit breaker keeps a flaky
// suggestion endpoint from adding latency to every turn.
func NewSuggester(cfg Config, log *logger.Logger) *Suggester {
	if cfg.MaxOptions <= 0 {
		cfg.MaxOptions = 3
	}
	return &Suggester{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: resilience.New(resilience.DefaultConfig("option-suggester"), log),
		log:     log,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate asks the upstream model for follow-up suggestions based on
// the recent conversation. The result is bounded by MaxOptions.
func (s *Suggester) Generate(ctx context.Context, history []chat.Message, lastQuery string) ([]string, error) {
	var out []string
	err := s.breaker.Execute(func() error {
		raw, err := s.complete(ctx, history)
		if err != nil {
			return err
		}
		out = parseSuggestions(raw, s.cfg.MaxOptions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Suggester) complete(ctx context.Context, history []chat.Message) (string, error) {
	messages := []wireMessage{{Role: "system", Content: suggestionPrompt}}
	// Only the tail of the conversation matters for suggestions.
	start := 0
	if len(history) > 6 {
		start = len(history) - 6
	}
	for _, m := range history[start:] {
		if m.Role == chat.RoleSystem {
			continue
		}
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(completionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: 0.9,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("suggestion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("suggestion endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("suggestion response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseSuggestions accepts either a JSON array of strings or loose
// line-based output, since smaller models do not always honor the
// JSON-only instruction.
func parseSuggestions(raw string, max int) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return clean(arr, max)
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, `"`)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return clean(lines, max)
}

func clean(in []string, max int) []string {
	out := make([]string, 0, max)
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}
