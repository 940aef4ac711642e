package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Database configuration. Driver selects "postgres" (default) or
	// "sqlite"; the sqlite path doubles as an easy local setup.
	Database struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		SQLitePath string
		MaxConns   int
	}

	// Redis cache configuration. Leave Addr empty to disable caching.
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Chat pipeline configuration
	Chat struct {
		Model            string
		MaxContextTokens int
		MaxOptions       int
		MemoryLimit      int
		MemoryCacheTTL   time.Duration
	}

	// Characters configuration
	Characters struct {
		Dir       string
		DefaultID string
		Watch     bool
	}

	// JWT session token configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
	}

	// Collaborator service endpoints
	Services struct {
		CompletionURL string
		OptionURL     string
		TTSURL        string
		STTURL        string
		ImageURL      string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates the Config singleton from environment variables.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		instance.Server.Port = getEnvString("PORT", "8080")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

		instance.Database.Driver = getEnvString("DB_DRIVER", "postgres")
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "cabm-chat")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.SQLitePath = getEnvString("DB_SQLITE_PATH", "data/cabm.db")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)

		instance.Redis.Addr = getEnvString("REDIS_URL", "")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)

		instance.Chat.Model = getEnvString("CHAT_MODEL", "gpt-4o-mini")
		instance.Chat.MaxContextTokens = getEnvInt("CHAT_MAX_CONTEXT_TOKENS", 4096)
		instance.Chat.MaxOptions = getEnvInt("CHAT_MAX_OPTIONS", 3)
		instance.Chat.MemoryLimit = getEnvInt("CHAT_MEMORY_LIMIT", 5)
		instance.Chat.MemoryCacheTTL = getEnvDuration("CHAT_MEMORY_CACHE_TTL", time.Minute)

		instance.Characters.Dir = getEnvString("CHARACTERS_DIR", "data/characters")
		instance.Characters.DefaultID = getEnvString("CHARACTERS_DEFAULT", "default")
		instance.Characters.Watch = getEnvBool("CHARACTERS_WATCH", true)

		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)

		instance.Services.CompletionURL = getEnvString("COMPLETION_API_URL", "https://api.openai.com")
		instance.Services.OptionURL = getEnvString("OPTION_API_URL", instance.Services.CompletionURL)
		instance.Services.TTSURL = getEnvString("TTS_API_URL", "")
		instance.Services.STTURL = getEnvString("STT_API_URL", "https://api.openai.com/v1/audio/transcriptions")
		instance.Services.ImageURL = getEnvString("IMAGE_API_URL", "")

		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")
	})

	return instance
}

// Get returns the singleton Config instance.
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
