package memory

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/shared/redis"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreConfig tunes retrieval.
type StoreConfig struct {
	// Limit bounds how many prior exchanges a retrieval returns.
	Limit int
	// CacheTTL bounds how long retrieval results are cached.
	CacheTTL time.Duration
}

// Store persists completed exchanges and retrieves the ones relevant to
// a new query. Relevance is keyword overlap plus recency; the embedding
// machinery of a dedicated vector store stays behind this interface.
type Store struct {
	db       *gorm.DB
	cache    *redis.Client
	limit    int
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewStore migrates the schema and returns a store. cache may be nil.
func NewStore(db *gorm.DB, cache *redis.Client, cfg StoreConfig, log *logger.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memory schema: %w", err)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Store{
		db:       db,
		cache:    cache,
		limit:    cfg.Limit,
		cacheTTL: cfg.CacheTTL,
		log:      log,
	}, nil
}

// Retrieve returns summaries of prior exchanges relevant to query,
// newest first. An empty result is valid and means no augmentation.
func (s *Store) Retrieve(ctx context.Context, query, characterID string) ([]string, error) {
	cacheKey := fmt.Sprintf("memory:%s:%x", characterID, sha256.Sum256([]byte(query)))
	if s.cache.Enabled() {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			var summaries []string
			if json.Unmarshal([]byte(cached), &summaries) == nil {
				return summaries, nil
			}
		}
	}

	records, err := s.search(ctx, query, characterID)
	if err != nil {
		return nil, err
	}

	summaries := make([]string, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, summarize(r))
	}

	if s.cache.Enabled() {
		if data, err := json.Marshal(summaries); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(data), s.cacheTTL); err != nil {
				s.log.Warn("failed to cache memory retrieval", "error", err.Error())
			}
		}
	}
	return summaries, nil
}

func (s *Store) search(ctx context.Context, query, characterID string) ([]Record, error) {
	tx := s.db.WithContext(ctx).Where("character_id = ?", characterID)

	if keywords := extractKeywords(query); len(keywords) > 0 {
		var clauses []string
		var args []any
		for _, kw := range keywords {
			clauses = append(clauses, "user_utterance LIKE ? OR assistant_utterance LIKE ?")
			pattern := "%" + kw + "%"
			args = append(args, pattern, pattern)
		}
		tx = tx.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}

	var records []Record
	err := tx.Order("created_at DESC").Limit(s.limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("memory retrieval failed: %w", err)
	}
	return records, nil
}

// Record persists one completed exchange.
func (s *Store) Record(ctx context.Context, userUtterance, assistantUtterance, characterID string) error {
	rec := &Record{
		ID:                 uuid.New().String(),
		UserUtterance:      userUtterance,
		AssistantUtterance: assistantUtterance,
		CharacterID:        characterID,
		CreatedAt:          time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// CountForCharacter reports how many exchanges are stored for a
// character, for diagnostics.
func (s *Store) CountForCharacter(ctx context.Context, characterID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("character_id = ?", characterID).
		Count(&count).Error
	return count, err
}

const summaryLimit = 200

func summarize(r Record) string {
	return fmt.Sprintf("User: %s / Assistant: %s",
		truncate(r.UserUtterance, summaryLimit),
		truncate(r.AssistantUtterance, summaryLimit),
	)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// extractKeywords pulls search terms out of the query. Single-rune
// words are noise in English; in CJK text every rune carries meaning,
// so those pass through.
func extractKeywords(query string) []string {
	fields := strings.Fields(query)
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f == "" {
			continue
		}
		if len([]rune(f)) < 2 && f[0] < 0x80 {
			continue
		}
		keywords = append(keywords, f)
		if len(keywords) == 6 {
			break
		}
	}
	return keywords
}
