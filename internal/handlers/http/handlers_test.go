package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/services"
	infrabackup "overlaycast/internal/infrastructure/backup"
	"overlaycast/internal/infrastructure/iplookup"
	"overlaycast/internal/infrastructure/middleware"
	"overlaycast/internal/infrastructure/repositories/memory"
	"overlaycast/pkg/backup"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	router *gin.Engine
	repo   *memory.MemoryEventRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	repo := memory.NewMemoryEventRepository()
	svc := services.NewEventService(repo, iplookup.RequestResolver{}, nil, logger, services.DefaultLayoutStoreConfig())

	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	backupService := backup.NewBackupService(storage, "test")
	scheduler := infrabackup.NewScheduler(backupService, repo, infrabackup.Config{}, logger)
	restore := infrabackup.NewRestoreService(backupService, repo, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	api := router.Group("/api/v1")
	NewEventHandler(svc).SetupRoutes(api)
	NewBackupHandler(scheduler, backupService, restore).SetupRoutes(api)

	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
		_ = repo.Close()
	})
	return &fixture{router: router, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T, id domain.EventID) domain.EventDocument {
	t.Helper()
	doc := domain.NewEventDocument("Jane", "jane@example.com", "")
	doc.Items = []domain.WatermarkItem{
		domain.NewItem(domain.ItemTypeName, ""),
		domain.NewItem(domain.ItemTypeIP, ""),
	}
	_, err := f.repo.CreateIfAbsent(context.Background(), id, doc)
	require.NoError(t, err)
	return doc
}

func TestEventHandler_GetEvent(t *testing.T) {
	f := newFixture(t)
	doc := f.seed(t, "evt1")

	w := f.do(t, http.MethodGet, "/api/v1/events/evt1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view domain.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, domain.RoleViewer, view.Role)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "Jane", view.Items[0].DisplayText)
	assert.Equal(t, "192.0.2.10", view.Items[1].DisplayText)

	w = f.do(t, http.MethodGet, "/api/v1/events/evt1?raw=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var raw struct {
		Document domain.EventDocument `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, doc, raw.Document)
}

func TestEventHandler_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/events/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = f.do(t, http.MethodGet, "/api/v1/events/bad.id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandler_ListEvents(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"total":0}`, w.Body.String())

	f.seed(t, "b")
	f.seed(t, "a")
	w = f.do(t, http.MethodGet, "/api/v1/events", nil)
	assert.JSONEq(t, `{"events":["a","b"],"total":2}`, w.Body.String())
}

func TestBackupHandler_CreateListRestore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "evt1")

	w := f.do(t, http.MethodPost, "/api/v1/backups", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Backup backup.Info `json:"backup"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = f.do(t, http.MethodGet, "/api/v1/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Backup.Name)

	w = f.do(t, http.MethodPost, "/api/v1/backups/"+created.Backup.Name+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result infrabackup.RestoreResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Skipped)

	w = f.do(t, http.MethodPost, "/api/v1/backups/"+created.Backup.Name+"/restore", map[string]interface{}{"overwrite": true})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Overwritten)
}

func TestBackupHandler_RestoreErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/backups/not-a-backup/restore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/backups/"+backup.NameFor(backupTime)+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

var backupTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
