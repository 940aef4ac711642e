package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cabm-chat/backend/internal/memory"
	"cabm-chat/backend/pkg/errors"
)

func testMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		sqlDB.Close()
	})

	store, err := memory.NewStore(db, nil, memory.StoreConfig{Limit: 5, CacheTTL: time.Minute}, quietLogger())
	require.NoError(t, err)
	return store
}

func newCharacterTestRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	characters := testCharacters(t)
	t.Cleanup(func() { characters.Close() })
	store := testMemoryStore(t)
	handler := NewCharacterHandler(characters, store, quietLogger())

	engine := gin.New()
	engine.Use(errors.ErrorHandler())
	engine.GET("/api/characters", handler.List)
	engine.POST("/api/characters/:id", handler.Select)
	engine.GET("/api/characters/:id/images", handler.Images)
	return engine, store
}

func TestCharacterList(t *testing.T) {
	engine, _ := newCharacterTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/characters", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success    bool   `json:"success"`
		Current    string `json:"current"`
		Characters []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"characters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "aria", resp.Current)
	require.Len(t, resp.Characters, 1)
	assert.Equal(t, "Aria", resp.Characters[0].Name)
}

func TestCharacterSelect(t *testing.T) {
	engine, store := newCharacterTestRouter(t)
	require.NoError(t, store.Record(context.Background(), "hi", "hello", "aria"))

	req := httptest.NewRequest(http.MethodPost, "/api/characters/aria", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success  bool  `json:"success"`
		Memories int64 `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.Memories)
}

func TestCharacterSelectUnknown(t *testing.T) {
	engine, _ := newCharacterTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/characters/nobody", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCharacterImagesUnknown(t *testing.T) {
	engine, _ := newCharacterTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/characters/nobody/images", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
