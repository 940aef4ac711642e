package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/logger"
)

// CompletionBroker opens a streaming completion call for one turn.
type CompletionBroker interface {
	Stream(ctx context.Context, history []Message, augmented string) (*CompletionStream, error)
}

// MemoryAugmentor retrieves prior exchanges relevant to a query and
// records completed turns. Both sides are best-effort from the
// pipeline's point of view.
type MemoryAugmentor interface {
	Retrieve(ctx context.Context, query, characterID string) ([]string, error)
	Record(ctx context.Context, userUtterance, assistantUtterance, characterID string) error
}

// OptionSuggester produces candidate follow-up utterances for a
// completed exchange.
type OptionSuggester interface {
	Generate(ctx context.Context, history []Message, lastQuery string) ([]string, error)
}

// CharacterSource identifies the active character for memory scoping.
type CharacterSource interface {
	CurrentID() string
}

// Orchestrator drives one chat turn: relay completion fragments live,
// then persist the finished exchange and suggest follow-ups, isolating
// failures so a half-delivered reply is never retracted and a
// half-generated reply is never persisted.
type Orchestrator struct {
	broker     CompletionBroker
	memory     MemoryAugmentor
	options    OptionSuggester
	characters CharacterSource
	maxTokens  int
	log        *logger.Logger
	metrics    *Metrics
}

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	// MaxContextTokens bounds the history sent upstream; zero disables
	// trimming.
	MaxContextTokens int
}

// NewOrchestrator wires the pipeline collaborators.
func NewOrchestrator(
	broker CompletionBroker,
	memory MemoryAugmentor,
	options OptionSuggester,
	characters CharacterSource,
	cfg OrchestratorConfig,
	log *logger.Logger,
	metrics *Metrics,
) *Orchestrator {
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = NewTestMetrics()
	}
	return &Orchestrator{
		broker:     broker,
		memory:     memory,
		options:    options,
		characters: characters,
		maxTokens:  cfg.MaxContextTokens,
		log:        log,
		metrics:    metrics,
	}
}

// Turn is one in-flight pipeline run. Consumers range over Events until
// it closes; the final event is always the terminal marker unless the
// consumer's context was cancelled first.
type Turn struct {
	events chan StreamEvent
	side   sync.WaitGroup
	done   chan struct{}
}

// Events returns the ordered event stream for this turn.
func (t *Turn) Events() <-chan StreamEvent {
	return t.events
}

// Wait blocks until the pipeline has finished and its detached side
// effects (memory write, option generation) have settled. The serving
// path never calls this; tests do.
func (t *Turn) Wait() {
	<-t.done
	t.side.Wait()
}

// Run validates the utterance and starts the pipeline. An empty
// utterance is rejected up front with a request-level error: no events,
// no session mutation, no backend connection.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, utterance string) (*Turn, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, apperrors.NewInvalidInputError("message must not be empty")
	}

	o.metrics.TurnsStarted.Inc()
	t := &Turn{
		events: make(chan StreamEvent, 8),
		done:   make(chan struct{}),
	}
	go o.run(ctx, sess, utterance, t)
	return t, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *Session, utterance string, t *Turn) {
	defer close(t.done)
	defer close(t.events)

	start := time.Now()
	characterID := o.characters.CurrentID()

	// AUGMENTING: the user message is part of history regardless of how
	// the turn ends; retrieval failure degrades to no augmentation.
	sess.Append(RoleUser, utterance)

	var augmented string
	memories, err := o.memory.Retrieve(ctx, utterance, characterID)
	if err != nil {
		o.log.Warn("memory retrieval failed, continuing without augmentation",
			"session", sess.ID(), "error", err.Error())
	} else if len(memories) > 0 {
		augmented = formatAugmented(memories)
	}

	// STREAMING: relay fragments as they arrive, accumulating the reply.
	history := TrimToBudget(sess.History(), o.maxTokens)
	stream, err := o.broker.Stream(ctx, history, augmented)
	if err != nil {
		o.metrics.StreamFailures.Inc()
		o.log.LogError(err, "completion stream failed to open", "session", sess.ID())
		o.emit(ctx, t, ErrorNotice(err.Error()))
		o.emit(ctx, t, Terminal)
		return
	}
	defer stream.Close()

	var buf strings.Builder
	delivered := true
	for frag := range stream.Fragments() {
		buf.WriteString(frag)
		o.metrics.Fragments.Inc()
		if !o.emit(ctx, t, ContentDelta(frag)) {
			delivered = false
			break
		}
	}

	if !delivered || ctx.Err() != nil {
		// Client went away mid-stream: tear down the backend call and
		// drop the turn. The partial reply is never persisted.
		stream.Close()
		o.emit(ctx, t, Terminal)
		return
	}
	if err := stream.Err(); err != nil {
		// The partial buffer is discarded: a half-spoken reply must not
		// enter history or memory.
		o.metrics.StreamFailures.Inc()
		o.log.LogError(err, "completion stream broke mid-turn", "session", sess.ID())
		o.emit(ctx, t, ErrorNotice(err.Error()))
		o.emit(ctx, t, Terminal)
		return
	}

	reply := buf.String()
	if reply == "" {
		o.emit(ctx, t, Terminal)
		return
	}

	// FINALIZING: the reply is complete. Persistence and suggestion run
	// on a detached context so a client disconnect no longer affects
	// stored state; each failure is isolated.
	sess.Append(RoleAssistant, reply)
	side := context.WithoutCancel(ctx)

	t.side.Add(1)
	go func() {
		defer t.side.Done()
		if err := o.memory.Record(side, utterance, reply, characterID); err != nil {
			o.metrics.MemoryFailures.Inc()
			o.log.LogError(err, "failed to record exchange in memory store",
				"session", sess.ID(), "character", characterID)
			return
		}
		o.metrics.MemoryWrites.Inc()
	}()

	optionsCh := make(chan []string, 1)
	t.side.Add(1)
	go func() {
		defer t.side.Done()
		opts, err := o.options.Generate(side, sess.History(), utterance)
		if err != nil {
			o.metrics.OptionFailures.Inc()
			o.log.LogError(err, "option generation failed", "session", sess.ID())
			optionsCh <- nil
			return
		}
		optionsCh <- opts
	}()

	// Options, when present, always land between the last delta and the
	// terminal marker.
	if opts := <-optionsCh; len(opts) > 0 {
		o.metrics.OptionsEmitted.Inc()
		o.emit(ctx, t, OptionsEvent(opts))
	}

	o.emit(ctx, t, Terminal)
	o.metrics.TurnDuration.Observe(time.Since(start).Seconds())
}

// emit delivers an event unless the consumer's context is gone. Once the
// client disconnects, emission becomes a no-op rather than an error.
func (o *Orchestrator) emit(ctx context.Context, t *Turn, ev StreamEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func formatAugmented(memories []string) string {
	var b strings.Builder
	b.WriteString("Relevant exchanges from earlier conversations:\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}
