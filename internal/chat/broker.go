package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUpstream marks failures of the completion backend. The orchestrator
// reports these as a single error notice and discards partial output.
var ErrUpstream = errors.New("completion backend failure")

// BrokerConfig configures the connection to the completion backend.
type BrokerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds non-streaming calls. Streaming calls are bounded by
	// the request context instead, since a healthy stream may outlive any
	// fixed deadline.
	Timeout time.Duration
}

// Broker wraps the OpenAI-compatible chat completion API as a cancellable
// lazy sequence of text fragments.
type Broker struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewBroker creates a broker for the given backend.
func NewBroker(cfg BrokerConfig) *Broker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Broker{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		// No client-level timeout: streams stay open as long as the
		// backend keeps yielding and the caller's context allows.
		httpClient: &http.Client{},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// buildMessages converts session history plus retrieved memory context
// into the wire format. Augmented context rides as an extra system
// message right after the persona prompt so it never displaces the
// conversation itself.
func buildMessages(history []Message, augmented string) []wireMessage {
	msgs := make([]wireMessage, 0, len(history)+1)
	inserted := augmented == ""
	for _, m := range history {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
		if !inserted && m.Role == RoleSystem {
			msgs = append(msgs, wireMessage{Role: string(RoleSystem), Content: augmented})
			inserted = true
		}
	}
	if !inserted {
		msgs = append([]wireMessage{{Role: string(RoleSystem), Content: augmented}}, msgs...)
	}
	return msgs
}

func (b *Broker) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return req, nil
}

// Complete performs a non-streaming completion call.
func (b *Broker) Complete(ctx context.Context, history []Message, augmented string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := b.newRequest(ctx, completionRequest{
		Model:    b.model,
		Messages: buildMessages(history, augmented),
	})
	if err != nil {
		return "", err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result completionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUpstream)
	}
	return result.Choices[0].Message.Content, nil
}

// CompletionStream is a single-pass, non-restartable sequence of text
// fragments. The consumer ranges over Fragments and checks Err once the
// channel closes; Close cancels the backend call and is safe to call at
// any point, any number of times.
type CompletionStream struct {
	fragments chan string
	cancel    context.CancelFunc
	body      io.ReadCloser
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Fragments returns the channel of text deltas. It is closed when the
// backend signals completion or fails; Err distinguishes the two.
func (s *CompletionStream) Fragments() <-chan string {
	return s.fragments
}

// Err reports the terminal failure, if any. Valid once Fragments is closed.
func (s *CompletionStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the backend connection. Idempotent.
func (s *CompletionStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.body.Close()
	})
}

func (s *CompletionStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Stream opens a streaming completion call. Fragments arrive on the
// returned stream's channel as the backend yields them; cancelling ctx
// or calling Close tears down the connection.
func (b *Broker) Stream(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := b.newRequest(ctx, completionRequest{
		Model:    b.model,
		Messages: buildMessages(history, augmented),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	stream := &CompletionStream{
		fragments: make(chan string, 16),
		cancel:    cancel,
		body:      resp.Body,
		done:      make(chan struct{}),
	}
	go stream.consume()
	return stream, nil
}

// consume parses the SSE body line by line, forwarding non-empty deltas
// until the [DONE] sentinel, a finish_reason, or a read failure.
func (s *CompletionStream) consume() {
	defer close(s.fragments)
	defer s.Close()

	finished := false
	reader := bufio.NewReader(s.body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if finished || errors.Is(err, io.EOF) {
				return
			}
			s.setErr(fmt.Errorf("%w: reading stream: %v", ErrUpstream, err))
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == sseSentinel {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, matching what the backend's
			// own clients tolerate.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				select {
				case s.fragments <- choice.Delta.Content:
				case <-s.done:
					// Consumer has abandoned the stream.
					return
				}
			}
			if choice.FinishReason != "" {
				finished = true
			}
		}
		if finished {
			return
		}
	}
}
