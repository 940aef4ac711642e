package di

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cabm-chat/backend/internal/ai"
	"cabm-chat/backend/internal/character"
	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/internal/memory"
	"cabm-chat/backend/internal/options"
	"cabm-chat/backend/pkg/config"
	"cabm-chat/backend/pkg/jwt"
	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/shared/redis"

	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all the dependencies for the application.
type Container struct {
	Config     *config.Config
	DB         *gorm.DB
	Cache      *redis.Client
	Logger     *logger.Logger
	JWTService *jwt.Service

	Sessions     *chat.Registry
	Characters   *character.Service
	Memory       *memory.Store
	Broker       *chat.Broker
	Suggester    *options.Suggester
	Speech       *ai.SpeechClient
	Images       *ai.ImageClient
	Metrics      *chat.Metrics
	Orchestrator *chat.Orchestrator
}

// SecretSource fetches API credentials; the secrets manager satisfies
// it, and tests can substitute a map.
type SecretSource interface {
	GetWithDefault(ctx context.Context, key, defaultValue string) string
}

// New wires the full pipeline from configuration. The prometheus
// registerer comes from the observability setup so pipeline metrics
// land on the same /metrics endpoint as the runtime ones.
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger, secretSource SecretSource, reg prometheus.Registerer) (*Container, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	apiKey := secretSource.GetWithDefault(ctx, "COMPLETION_API_KEY", "")

	cache := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	characters, err := character.NewService(cfg.Characters.Dir, cfg.Characters.DefaultID, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load characters: %w", err)
	}
	if cfg.Characters.Watch {
		if err := characters.Watch(); err != nil {
			log.Warn("profile hot reload unavailable", "error", err.Error())
		}
	}

	memStore, err := memory.NewStore(db, cache, memory.StoreConfig{
		Limit:    cfg.Chat.MemoryLimit,
		CacheTTL: cfg.Chat.MemoryCacheTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	broker := chat.NewBroker(chat.BrokerConfig{
		BaseURL: cfg.Services.CompletionURL,
		APIKey:  apiKey,
		Model:   cfg.Chat.Model,
		Timeout: cfg.Server.Timeout,
	})

	suggester := options.NewSuggester(options.Config{
		BaseURL:    cfg.Services.OptionURL,
		APIKey:     apiKey,
		Model:      cfg.Chat.Model,
		MaxOptions: cfg.Chat.MaxOptions,
	}, log)

	speech := ai.NewSpeechClient(ai.SpeechConfig{
		TTSURL: cfg.Services.TTSURL,
		STTURL: cfg.Services.STTURL,
		APIKey: apiKey,
	}, log)

	images := ai.NewImageClient(ai.ImageConfig{
		BaseURL: cfg.Services.ImageURL,
		APIKey:  apiKey,
	}, log)

	metrics := chat.NewMetrics(reg)
	orch := chat.NewOrchestrator(broker, memStore, suggester, characters,
		chat.OrchestratorConfig{MaxContextTokens: cfg.Chat.MaxContextTokens}, log, metrics)

	sessions := chat.NewRegistry()
	seedDefaultSession(sessions, characters, log)

	return &Container{
		Config:       cfg,
		DB:           db,
		Cache:        cache,
		Logger:       log,
		JWTService:   jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry),
		Sessions:     sessions,
		Characters:   characters,
		Memory:       memStore,
		Broker:       broker,
		Suggester:    suggester,
		Speech:       speech,
		Images:       images,
		Metrics:      metrics,
		Orchestrator: orch,
	}, nil
}

// seedDefaultSession gives the shared session its opening system
// prompt so the first turn already speaks in character.
func seedDefaultSession(sessions *chat.Registry, characters *character.Service, log *logger.Logger) {
	profile := characters.Current()
	if profile == nil {
		return
	}
	prompt, err := profile.SystemPrompt(character.DefaultVariant)
	if err != nil {
		log.Warn("failed to render default system prompt", "error", err.Error())
		return
	}
	sessions.Default().Clear(character.DefaultVariant, prompt)
}

// Close releases background resources held by the container.
func (c *Container) Close() error {
	if c.Characters != nil {
		return c.Characters.Close()
	}
	return nil
}
