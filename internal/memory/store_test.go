package memory

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cabm-chat/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// A named shared-cache database keeps the pool's connections on one
	// in-memory instance while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		sqlDB.Close()
	})

	log := logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
	store, err := NewStore(db, nil, StoreConfig{Limit: 3, CacheTTL: time.Minute}, log)
	require.NoError(t, err)
	return store
}

func TestStoreRecordAndRetrieve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "do you like jazz piano", "I adore jazz piano", "aria"))
	require.NoError(t, store.Record(ctx, "favorite constellation", "Cassiopeia, easily", "aria"))

	summaries, err := store.Retrieve(ctx, "tell me about jazz again", "aria")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "jazz piano")
	assert.Contains(t, summaries[0], "User: ")
	assert.Contains(t, summaries[0], "Assistant: ")
}

func TestStoreRetrieveScopedToCharacter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "remember the jazz bar", "of course", "aria"))
	require.NoError(t, store.Record(ctx, "jazz is overrated", "bold take", "silver_wolf"))

	summaries, err := store.Retrieve(ctx, "jazz", "aria")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "jazz bar")
}

func TestStoreRetrieveNoMatchIsEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "hello there", "hi", "aria"))

	summaries, err := store.Retrieve(ctx, "quantum thermodynamics", "aria")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestStoreRetrieveLimitAndRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, "counting beats", "beat recorded", "aria"))
		time.Sleep(2 * time.Millisecond)
	}

	summaries, err := store.Retrieve(ctx, "counting beats", "aria")
	require.NoError(t, err)
	assert.Len(t, summaries, 3)
}

func TestStoreCountForCharacter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "a", "b", "aria"))
	require.NoError(t, store.Record(ctx, "c", "d", "aria"))

	count, err := store.CountForCharacter(ctx, "aria")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountForCharacter(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSummarizeTruncatesLongUtterances(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	summary := summarize(Record{UserUtterance: string(long), AssistantUtterance: "short"})
	assert.Less(t, len(summary), 300)
	assert.Contains(t, summary, "...")
	assert.Contains(t, summary, "Assistant: short")
}

func TestExtractKeywords(t *testing.T) {
	assert.Equal(t, []string{"do", "jazz", "piano"}, extractKeywords("do a jazz piano?"))
	// Single ASCII runes are noise; single CJK runes are words.
	assert.Equal(t, []string{"猫", "likes", "me"}, extractKeywords("猫 likes me"))
	assert.Empty(t, extractKeywords("a i o"))
	assert.Len(t, extractKeywords("one two three four five six seven eight"), 6)
}
