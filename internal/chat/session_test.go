package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAppendOrdinals(t *testing.T) {
	sess := NewSession("s")

	assert.Equal(t, 0, sess.Append(RoleUser, "one"))
	assert.Equal(t, 1, sess.Append(RoleAssistant, "two"))
	assert.Equal(t, 2, sess.Append(RoleUser, "three"))

	history := sess.History()
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, i, msg.Ordinal)
	}
}

func TestSessionClearKeepsOrdinalCounter(t *testing.T) {
	sess := NewSession("s")
	sess.Append(RoleUser, "one")
	sess.Append(RoleAssistant, "two")

	ord := sess.Clear("study", "Focus mode.")
	assert.Equal(t, 2, ord)
	assert.Equal(t, "study", sess.Variant())

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, "Focus mode.", history[0].Content)

	// Ordinals keep climbing so message identity is never reused.
	assert.Equal(t, 3, sess.Append(RoleUser, "next"))
}

func TestSessionHistoryIsSnapshot(t *testing.T) {
	sess := NewSession("s")
	sess.Append(RoleUser, "one")

	snap := sess.History()
	sess.Append(RoleAssistant, "two")

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, sess.Len())
}

func TestSessionConcurrentAppends(t *testing.T) {
	sess := NewSession("s")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Append(RoleUser, "msg")
			sess.History()
		}()
	}
	wg.Wait()

	history := sess.History()
	require.Len(t, history, 50)
	seen := make(map[int]bool, 50)
	for _, msg := range history {
		assert.False(t, seen[msg.Ordinal], "duplicate ordinal %d", msg.Ordinal)
		seen[msg.Ordinal] = true
	}
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()

	a := reg.Get("a")
	assert.Same(t, a, reg.Get("a"))
	assert.NotSame(t, a, reg.Get("b"))

	// Empty id resolves to the shared default session.
	assert.Same(t, reg.Default(), reg.Get(""))
	assert.Equal(t, DefaultSessionID, reg.Default().ID())
}
