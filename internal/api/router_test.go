package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/coviewhq/coview/internal/collab"
	"github.com/coviewhq/coview/internal/realtime"
	"github.com/coviewhq/coview/pkg/response"
)

func newTestRouter(t *testing.T) (*gin.Engine, *collab.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := collab.NewStore()
	registry := collab.NewRegistry()
	coordinator := collab.NewRouter(store, registry, nil, nil, nil)
	hub := realtime.NewHub(coordinator)

	router, err := NewRouter(hub, store)
	require.NoError(t, err)
	return router, store
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	_, err := NewRouter(nil, collab.NewStore())
	require.Error(t, err)

	_, err = NewRouter(realtime.NewHub(nil), nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doRequest(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
}

func TestListSessions(t *testing.T) {
	router, store := newTestRouter(t)

	_, _, err := store.CreateSession("Demo", "Alice", nil)
	require.NoError(t, err)

	w, resp := doRequest(t, router, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	sessions, ok := data["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
}

func TestGetSession(t *testing.T) {
	router, store := newTestRouter(t)

	session, _, err := store.CreateSession("Demo", "Alice", nil)
	require.NoError(t, err)

	w, resp := doRequest(t, router, http.MethodGet, "/api/sessions/"+session.ID)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, session.ID, data["id"])
}

func TestGetSessionNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doRequest(t, router, http.MethodGet, "/api/sessions/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
