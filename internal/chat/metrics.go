package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks pipeline activity for the /metrics endpoint.
type Metrics struct {
	TurnsStarted   prometheus.Counter
	Fragments      prometheus.Counter
	StreamFailures prometheus.Counter
	MemoryWrites   prometheus.Counter
	MemoryFailures prometheus.Counter
	OptionsEmitted prometheus.Counter
	OptionFailures prometheus.Counter
	TurnDuration   prometheus.Histogram
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_turns_started_total",
			Help: "Chat turns accepted by the orchestrator.",
		}),
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_fragments_relayed_total",
			Help: "Completion fragments relayed to clients.",
		}),
		StreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_stream_failures_total",
			Help: "Completion streams that ended in a backend failure.",
		}),
		MemoryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_memory_writes_total",
			Help: "Completed turns recorded to the memory store.",
		}),
		MemoryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_memory_write_failures_total",
			Help: "Memory store writes that failed.",
		}),
		OptionsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_options_emitted_total",
			Help: "Follow-up option events emitted.",
		}),
		OptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_option_failures_total",
			Help: "Option generation calls that failed.",
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Wall time of a full chat turn including finalization.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	reg.MustRegister(
		m.TurnsStarted, m.Fragments, m.StreamFailures,
		m.MemoryWrites, m.MemoryFailures,
		m.OptionsEmitted, m.OptionFailures,
		m.TurnDuration,
	)
	return m
}

// NewTestMetrics creates metrics backed by a private registry, for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
