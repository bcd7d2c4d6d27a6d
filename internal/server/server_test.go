package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/handlers"
	"omnirelay-go/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeKeys struct{}

func (fakeKeys) GetAPIKey(ctx context.Context, key string) (*store.APIKey, error) {
	if key != "sk-test" {
		return nil, &store.ErrNotFound{Entity: "api_key", Key: key}
	}
	return &store.APIKey{ID: "k1", Key: key, UserID: "u1", Type: store.KeyTypeNormal, Active: true}, nil
}

func (fakeKeys) GetUser(ctx context.Context, id string) (*store.User, error) {
	return &store.User{ID: id, Username: "alice", Role: store.RoleUser, Active: true}, nil
}

type pinger struct{ err error }

func (p pinger) Health(ctx context.Context) error { return p.err }

func testRouter(db, coord Pinger) *gin.Engine {
	cfg := &config.Config{}
	cfg.Server.Debug = true
	return NewRouter(Deps{
		Cfg:     cfg,
		Keys:    fakeKeys{},
		Handler: handlers.New(cfg, nil, nil, nil, nil, nil),
		DB:      db,
		Coord:   coord,
	})
}

func TestHealthOK(t *testing.T) {
	r := testRouter(pinger{}, pinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
}

func TestHealthDegraded(t *testing.T) {
	r := testRouter(pinger{err: errors.New("connection refused")}, pinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "degraded", gjson.Get(w.Body.String(), "status").String())
	require.Contains(t, gjson.Get(w.Body.String(), "database").String(), "refused")
}

func TestModelsRequiresKey(t *testing.T) {
	r := testRouter(pinger{}, pinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestModelsWithKey(t *testing.T) {
	r := testRouter(pinger{}, pinger{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-test")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "list", gjson.Get(w.Body.String(), "object").String())
}

func TestGeminiSurfaceListsModels(t *testing.T) {
	r := testRouter(pinger{}, pinger{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1beta/models?key=sk-test", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, gjson.Get(w.Body.String(), "models.0.name").String(), "models/")
}

func TestCORSPreflight(t *testing.T) {
	r := testRouter(pinger{}, pinger{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
