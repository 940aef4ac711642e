package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cabm-chat/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Manager provides access to secrets from Vault with environment
// variable fallback. API keys for the completion, option, and speech
// backends flow through here.
type Manager struct {
	client      *vault.Client
	enabled     bool
	secretsPath string
	cache       map[string]string
	mu          sync.RWMutex
	log         *logger.Logger
	cacheTTL    time.Duration
}

// NewManager creates a secrets manager from VAULT_* environment
// variables. When Vault is disabled (the default without VAULT_ADDR),
// all lookups fall back to environment variables.
func NewManager(log *logger.Logger) (*Manager, error) {
	addr := os.Getenv("VAULT_ADDR")
	enabled := addr != ""
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		enabled = v == "true" || v == "1" || v == "yes"
	}

	m := &Manager{
		enabled:     enabled,
		secretsPath: os.Getenv("VAULT_SECRETS_PATH"),
		cache:       make(map[string]string),
		log:         log,
		cacheTTL:    5 * time.Minute,
	}
	if m.secretsPath == "" {
		m.secretsPath = "cabm-chat"
	}

	if !enabled {
		return m, nil
	}
	if addr == "" {
		return nil, ErrNoVaultAddress
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = addr
	vaultConfig.Timeout = 10 * time.Second
	vaultConfig.MaxRetries = 3

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}
	m.client = client

	go m.cleanupCache()
	return m, nil
}

// Get retrieves a secret, trying Vault first and falling back to the
// environment.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	cached, found := m.cache[key]
	m.mu.RUnlock()
	if found {
		return cached, nil
	}

	if !m.enabled {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("secret not found in vault, falling back to environment", "key", key)
			return m.getFromEnvironment(key)
		}
		return "", err
	}

	m.cacheSecret(key, value)
	return value, nil
}

// GetWithDefault retrieves a secret with a default if not found.
func (m *Manager) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (m *Manager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2("secret").Get(ctx, m.secretsPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (m *Manager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	m.cacheSecret(key, value)
	return value, nil
}

func (m *Manager) cacheSecret(key, value string) {
	m.mu.Lock()
	m.cache[key] = value
	m.mu.Unlock()
}

// cleanupCache periodically clears the cache so rotated secrets are
// picked up.
func (m *Manager) cleanupCache() {
	ticker := time.NewTicker(m.cacheTTL)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		m.cache = make(map[string]string)
		m.mu.Unlock()
	}
}
