package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

// newFakeStream builds a stream that yields the given fragments and then
// finishes with err (nil for a natural end).
func newFakeStream(fragments []string, err error) *CompletionStream {
	s := &CompletionStream{
		fragments: make(chan string, len(fragments)+1),
		cancel:    func() {},
		body:      io.NopCloser(strings.NewReader("")),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.fragments)
		for _, f := range fragments {
			select {
			case s.fragments <- f:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.setErr(err)
		}
	}()
	return s
}

type fakeBroker struct {
	streamFn func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error)

	mu        sync.Mutex
	augmented string
	history   []Message
}

func (b *fakeBroker) Stream(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
	b.mu.Lock()
	b.augmented = augmented
	b.history = history
	b.mu.Unlock()
	return b.streamFn(ctx, history, augmented)
}

type fakeMemory struct {
	retrieved   []string
	retrieveErr error
	recordErr   error

	mu       sync.Mutex
	recorded int
	lastUser string
}

func (m *fakeMemory) Retrieve(ctx context.Context, query, characterID string) ([]string, error) {
	return m.retrieved, m.retrieveErr
}

func (m *fakeMemory) Record(ctx context.Context, user, assistant, characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.recorded++
	m.lastUser = user
	return nil
}

func (m *fakeMemory) recordedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

type fakeOptions struct {
	opts []string
	err  error
}

func (o *fakeOptions) Generate(ctx context.Context, history []Message, lastQuery string) ([]string, error) {
	return o.opts, o.err
}

type fakeCharacters struct{ id string }

func (c *fakeCharacters) CurrentID() string { return c.id }

func newTestOrchestrator(broker CompletionBroker, memory MemoryAugmentor, opts OptionSuggester) *Orchestrator {
	return NewOrchestrator(broker, memory, opts, &fakeCharacters{id: "aria"},
		OrchestratorConfig{}, quietLogger(), NewTestMetrics())
}

func collect(t *testing.T, turn *Turn) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-turn.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for turn events")
		}
	}
}

func terminalCount(events []StreamEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Type == EventTerminal {
			n++
		}
	}
	return n
}

func TestRunHappyPath(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"Hel", "lo ", "there"}, nil), nil
	}}
	memory := &fakeMemory{retrieved: []string{"User: hi / Assistant: hey"}}
	opts := &fakeOptions{opts: []string{"Tell me more", "What else?"}}
	orch := newTestOrchestrator(broker, memory, opts)

	sess := NewSession("s1")
	sess.Clear("character", "You are Aria.")

	turn, err := orch.Run(context.Background(), sess, "hello")
	require.NoError(t, err)

	events := collect(t, turn)
	turn.Wait()

	require.NotEmpty(t, events)
	assert.Equal(t, EventTerminal, events[len(events)-1].Type)
	assert.Equal(t, 1, terminalCount(events))

	var reply strings.Builder
	var options []string
	for _, ev := range events {
		switch ev.Type {
		case EventContent:
			reply.WriteString(ev.Content)
		case EventOptions:
			options = ev.Options
		case EventError:
			t.Fatalf("unexpected error event: %s", ev.Error)
		}
	}
	assert.Equal(t, "Hello there", reply.String())
	assert.Equal(t, []string{"Tell me more", "What else?"}, options)

	// Retrieved memories ride along as augmented context.
	broker.mu.Lock()
	assert.Contains(t, broker.augmented, "User: hi / Assistant: hey")
	broker.mu.Unlock()

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, RoleUser, history[1].Role)
	assert.Equal(t, RoleAssistant, history[2].Role)
	assert.Equal(t, "Hello there", history[2].Content)

	assert.Equal(t, 1, memory.recordedCount())
}

func TestRunOptionsPrecedeTerminal(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"ok"}, nil), nil
	}}
	orch := newTestOrchestrator(broker, &fakeMemory{}, &fakeOptions{opts: []string{"a"}})

	turn, err := orch.Run(context.Background(), NewSession("s"), "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	var optionsIdx, terminalIdx int
	for i, ev := range events {
		switch ev.Type {
		case EventOptions:
			optionsIdx = i
		case EventTerminal:
			terminalIdx = i
		}
	}
	assert.Less(t, optionsIdx, terminalIdx)
}

func TestRunEmptyUtteranceRejected(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		t.Fatal("broker must not be called for empty input")
		return nil, nil
	}}
	orch := newTestOrchestrator(broker, &fakeMemory{}, &fakeOptions{})

	sess := NewSession("s")
	turn, err := orch.Run(context.Background(), sess, "   ")
	require.Error(t, err)
	assert.Nil(t, turn)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)

	// No events, no session mutation.
	assert.Equal(t, 0, sess.Len())
}

func TestRunStreamOpenFailure(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return nil, ErrUpstream
	}}
	memory := &fakeMemory{}
	orch := newTestOrchestrator(broker, memory, &fakeOptions{opts: []string{"a"}})

	sess := NewSession("s")
	turn, err := orch.Run(context.Background(), sess, "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, EventTerminal, events[1].Type)

	// The user message stays; no assistant reply, no memory write.
	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, 0, memory.recordedCount())
}

func TestRunMidStreamFailureDiscardsPartial(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"partial "}, errors.New("connection reset")), nil
	}}
	memory := &fakeMemory{}
	orch := newTestOrchestrator(broker, memory, &fakeOptions{opts: []string{"a"}})

	sess := NewSession("s")
	turn, err := orch.Run(context.Background(), sess, "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	assert.Equal(t, 1, terminalCount(events))
	assert.Equal(t, EventTerminal, events[len(events)-1].Type)

	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventContent, EventError, EventTerminal}, types)

	// The partial buffer never reaches history or memory, and no
	// options are suggested for a failed turn.
	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, 0, memory.recordedCount())
}

func TestRunSideEffectFailuresAreIsolated(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"fine"}, nil), nil
	}}
	memory := &fakeMemory{recordErr: errors.New("disk full")}
	opts := &fakeOptions{err: errors.New("option backend down")}
	orch := newTestOrchestrator(broker, memory, opts)

	sess := NewSession("s")
	turn, err := orch.Run(context.Background(), sess, "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	// The reply is delivered and the turn still terminates cleanly with
	// no error event; only the suggestions are missing.
	assert.Equal(t, 1, terminalCount(events))
	for _, ev := range events {
		assert.NotEqual(t, EventError, ev.Type)
		assert.NotEqual(t, EventOptions, ev.Type)
	}

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "fine", history[1].Content)
}

func TestRunRetrievalFailureDegradesToNoAugmentation(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"ok"}, nil), nil
	}}
	memory := &fakeMemory{retrieveErr: errors.New("cache down")}
	orch := newTestOrchestrator(broker, memory, &fakeOptions{})

	turn, err := orch.Run(context.Background(), NewSession("s"), "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	assert.Equal(t, EventTerminal, events[len(events)-1].Type)
	broker.mu.Lock()
	assert.Empty(t, broker.augmented)
	broker.mu.Unlock()
}

func TestRunClientCancelMidStream(t *testing.T) {
	release := make(chan struct{})
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		s := &CompletionStream{
			fragments: make(chan string),
			cancel:    func() {},
			body:      io.NopCloser(strings.NewReader("")),
			done:      make(chan struct{}),
		}
		go func() {
			defer close(s.fragments)
			s.fragments <- "first"
			<-release
		}()
		return s, nil
	}}
	memory := &fakeMemory{}
	orch := newTestOrchestrator(broker, memory, &fakeOptions{opts: []string{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	sess := NewSession("s")
	turn, err := orch.Run(ctx, sess, "hi")
	require.NoError(t, err)

	// Read the first delta, then drop the connection.
	ev := <-turn.Events()
	assert.Equal(t, EventContent, ev.Type)
	cancel()
	close(release)

	turn.Wait()
	for range turn.Events() {
	}

	// The turn is abandoned: no assistant message, no memory write.
	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, 0, memory.recordedCount())
}

// blockingOptions holds Generate until released, so a test can pin the
// pipeline inside finalization.
type blockingOptions struct {
	entered chan struct{}
	release chan struct{}
	opts    []string
}

func (o *blockingOptions) Generate(ctx context.Context, history []Message, lastQuery string) ([]string, error) {
	close(o.entered)
	<-o.release
	return o.opts, nil
}

func TestRunDisconnectDuringFinalizationCompletesSideEffects(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"all done"}, nil), nil
	}}
	memory := &fakeMemory{}
	opts := &blockingOptions{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		opts:    []string{"next"},
	}
	orch := newTestOrchestrator(broker, memory, opts)

	ctx, cancel := context.WithCancel(context.Background())
	sess := NewSession("s")
	turn, err := orch.Run(ctx, sess, "hi")
	require.NoError(t, err)

	// Consume the whole reply, wait until finalization is underway,
	// then drop the client.
	ev := <-turn.Events()
	require.Equal(t, EventContent, ev.Type)
	<-opts.entered
	cancel()
	close(opts.release)

	turn.Wait()
	events := []StreamEvent{ev}
	for e := range turn.Events() {
		events = append(events, e)
	}

	// The delivered reply stands and the stored state is complete: the
	// assistant message and the memory record both land even though no
	// client is left to observe them.
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "all done", history[1].Content)
	assert.Equal(t, 1, memory.recordedCount())

	// Emission after the disconnect is best effort; whatever did get
	// out never includes a second terminal or a retraction.
	assert.LessOrEqual(t, terminalCount(events), 1)
	for _, e := range events {
		assert.NotEqual(t, EventError, e.Type)
	}
}

func TestRunEmptyReplySkipsFinalization(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream(nil, nil), nil
	}}
	memory := &fakeMemory{}
	orch := newTestOrchestrator(broker, memory, &fakeOptions{opts: []string{"a"}})

	sess := NewSession("s")
	turn, err := orch.Run(context.Background(), sess, "hi")
	require.NoError(t, err)
	events := collect(t, turn)
	turn.Wait()

	require.Len(t, events, 1)
	assert.Equal(t, EventTerminal, events[0].Type)
	assert.Equal(t, 0, memory.recordedCount())
	assert.Equal(t, 1, sess.Len())
}

func TestConcurrentTurnsOnDistinctSessions(t *testing.T) {
	broker := &fakeBroker{streamFn: func(ctx context.Context, history []Message, augmented string) (*CompletionStream, error) {
		return newFakeStream([]string{"reply"}, nil), nil
	}}
	orch := newTestOrchestrator(broker, &fakeMemory{}, &fakeOptions{})

	var wg sync.WaitGroup
	registry := NewRegistry()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := registry.Get(string(rune('a' + n)))
			turn, err := orch.Run(context.Background(), sess, "hi")
			if err != nil {
				t.Error(err)
				return
			}
			events := collect(t, turn)
			turn.Wait()
			if terminalCount(events) != 1 {
				t.Errorf("expected exactly one terminal, got %d", terminalCount(events))
			}
		}(i)
	}
	wg.Wait()
}
