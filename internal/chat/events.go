package chat

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of a StreamEvent.
type EventType string

const (
	// EventContent carries an incremental piece of the assistant reply
	EventContent EventType = "content"
	// EventOptions carries suggested follow-up utterances for the user
	EventOptions EventType = "options"
	// EventError reports a mid-stream failure; it does not end the stream
	EventError EventType = "error"
	// EventTerminal closes the stream; exactly one per request, always last
	EventTerminal EventType = "done"
)

// StreamEvent is the unit relayed to the client over SSE or WebSocket.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Options []string  `json:"options,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// ContentDelta builds an event carrying one completion fragment.
func ContentDelta(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Content: text}
}

// OptionsEvent builds an event carrying the suggested follow-ups.
func OptionsEvent(options []string) StreamEvent {
	return StreamEvent{Type: EventOptions, Options: options}
}

// ErrorNotice builds an event reporting a non-terminal failure.
func ErrorNotice(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}

// Terminal is the sentinel event ending every stream.
var Terminal = StreamEvent{Type: EventTerminal}

// sseSentinel is the literal the web client watches for to close the
// EventSource. It is deliberately not JSON.
const sseSentinel = "[DONE]"

// SSE renders the event in the wire format the frontend consumes: a
// single "data:" line carrying a JSON object, or the [DONE] sentinel
// for the terminal marker.
func (e StreamEvent) SSE() string {
	if e.Type == EventTerminal {
		return fmt.Sprintf("data: %s\n\n", sseSentinel)
	}

	var payload any
	switch e.Type {
	case EventContent:
		payload = map[string]string{"content": e.Content}
	case EventOptions:
		payload = map[string][]string{"options": e.Options}
	case EventError:
		payload = map[string]string{"error": e.Error}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshaling flat string maps cannot fail; keep the stream alive anyway.
		return fmt.Sprintf("data: %s\n\n", sseSentinel)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}
