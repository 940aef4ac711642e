package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cabm-chat/backend/internal/ai"
	"cabm-chat/backend/internal/character"
	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/internal/memory"
	"cabm-chat/backend/internal/options"
	"cabm-chat/backend/pkg/config"
	"cabm-chat/backend/pkg/di"
	"cabm-chat/backend/pkg/health"
	"cabm-chat/backend/pkg/jwt"
	"cabm-chat/backend/pkg/logger"
)

func testContainer(t *testing.T) *di.Container {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})

	dir := t.TempDir()
	profile := "id: aria\nname: Aria\ndescription: A companion.\npersonality: warm\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aria.yaml"), []byte(profile), 0o644))
	characters, err := character.NewService(dir, "aria", log)
	require.NoError(t, err)
	t.Cleanup(func() { characters.Close() })

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		sqlDB.Close()
	})

	memStore, err := memory.NewStore(db, nil, memory.StoreConfig{Limit: 5, CacheTTL: time.Minute}, log)
	require.NoError(t, err)

	broker := chat.NewBroker(chat.BrokerConfig{BaseURL: "http://127.0.0.1:0", Model: "test"})
	suggester := options.NewSuggester(options.Config{BaseURL: "http://127.0.0.1:0", Model: "test"}, log)
	orch := chat.NewOrchestrator(broker, memStore, suggester, characters,
		chat.OrchestratorConfig{}, log, chat.NewTestMetrics())

	return &di.Container{
		Config:       config.Get(),
		DB:           db,
		Logger:       log,
		JWTService:   jwt.NewService("test-secret", time.Hour),
		Sessions:     chat.NewRegistry(),
		Characters:   characters,
		Memory:       memStore,
		Broker:       broker,
		Suggester:    suggester,
		Speech:       ai.NewSpeechClient(ai.SpeechConfig{}, log),
		Images:       ai.NewImageClient(ai.ImageConfig{}, log),
		Metrics:      chat.NewTestMetrics(),
		Orchestrator: orch,
	}
}

func TestRouterHealthEndpoint(t *testing.T) {
	container := testContainer(t)
	checker := health.NewChecker(container.Logger, time.Minute)
	checker.RunChecks()

	r := New(container, checker)
	require.NoError(t, r.SetupRoutes(""))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRouterRegistersChatRoutes(t *testing.T) {
	container := testContainer(t)
	checker := health.NewChecker(container.Logger, time.Minute)

	r := New(container, checker)
	require.NoError(t, r.SetupRoutes(""))

	routes := make(map[string]bool)
	for _, route := range r.Engine.Routes() {
		routes[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /api/chat",
		"POST /api/chat/stream",
		"POST /api/clear",
		"GET /api/characters",
		"POST /api/characters/:id",
		"GET /api/characters/:id/images",
		"POST /api/tts",
		"POST /api/mic",
		"POST /api/background",
		"POST /api/session",
		"GET /api/v1/health",
		"GET /ws",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	container := testContainer(t)
	checker := health.NewChecker(container.Logger, time.Minute)

	r := New(container, checker)
	require.NoError(t, r.SetupRoutes(""))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
