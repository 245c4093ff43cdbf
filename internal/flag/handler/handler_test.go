package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flaggate/internal/flag/cache"
	"flaggate/internal/flag/handler"
	"flaggate/internal/flag/service"
	"flaggate/internal/flag/store"
	"flaggate/internal/platform/middleware"
)

const testAPIKey = "test-secret"

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := service.New(store.NewInMemoryStore(), cache.New(client, 0, nil, nil), nil, nil, nil)
	h := handler.New(svc, nil)
	auth := middleware.NewAdminAuth(testAPIKey, "", nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	h.Register(r, auth.Require)
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createFlag(t *testing.T, r chi.Router, body map[string]any) map[string]any {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/flags", body, testAPIKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateFlag(t *testing.T) {
	r := newTestRouter(t)

	out := createFlag(t, r, map[string]any{
		"key":     "checkout_v2",
		"name":    "Checkout v2",
		"enabled": true,
	})
	assert.Equal(t, "checkout_v2", out["key"])
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, 100.0, out["rollout_percentage"], "rollout defaults to 100")
	assert.NotZero(t, out["id"])

	t.Run("duplicate key conflicts", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/flags", map[string]any{"key": "checkout_v2", "name": "again"}, testAPIKey)
		assert.Equal(t, http.StatusConflict, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "conflict", body["error"])
	})

	t.Run("invalid key rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/flags", map[string]any{"key": "Bad Key", "name": "x"}, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/flags", map[string]any{"key": "k2", "name": "x", "surprise": 1}, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMutationsRequireCredential(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/flags", map[string]any{"key": "k", "name": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/flags", map[string]any{"key": "k", "name": "x"}, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reads stay open.
	rec = doJSON(t, r, http.MethodGet, "/flags", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetFlag(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "visible", "name": "Visible"})

	rec := doJSON(t, r, http.MethodGet, "/flags/visible", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/flags/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, `flag "ghost" not found`, body["error_description"])
}

func TestListFlags(t *testing.T) {
	r := newTestRouter(t)
	for _, key := range []string{"one", "two", "three"} {
		createFlag(t, r, map[string]any{"key": key, "name": key})
	}

	rec := doJSON(t, r, http.MethodGet, "/flags?skip=1&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flags []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	require.Len(t, flags, 1)
	assert.Equal(t, "two", flags[0]["key"])

	t.Run("bounds enforced", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=1001", "limit=abc", "skip=-1"} {
			rec := doJSON(t, r, http.MethodGet, "/flags?"+q, nil, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("empty result is an array", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodGet, "/flags?skip=100", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestUpdateFlag(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "mutable", "name": "Mutable", "enabled": true})

	rec := doJSON(t, r, http.MethodPut, "/flags/mutable", map[string]any{"rollout_percentage": 25}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 25.0, out["rollout_percentage"])
	assert.Equal(t, "Mutable", out["name"], "unset fields unchanged")

	rec = doJSON(t, r, http.MethodPut, "/flags/ghost", map[string]any{"enabled": false}, testAPIKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFlag(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "doomed", "name": "Doomed"})

	rec := doJSON(t, r, http.MethodDelete, "/flags/doomed", nil, testAPIKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = doJSON(t, r, http.MethodDelete, "/flags/doomed", nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateFlag(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "on_for_all", "name": "On", "enabled": true})

	rec := doJSON(t, r, http.MethodGet, "/flags/on_for_all/evaluate?user_id=alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var eval map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eval))
	assert.Equal(t, "on_for_all", eval["key"])
	assert.Equal(t, true, eval["enabled"])
	assert.Equal(t, "Flag enabled for all users", eval["reason"])

	rec = doJSON(t, r, http.MethodGet, "/flags/ghost/evaluate", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "tracked", "name": "Tracked"})
	doJSON(t, r, http.MethodPut, "/flags/tracked", map[string]any{"enabled": true}, testAPIKey)

	rec := doJSON(t, r, http.MethodGet, "/flags/tracked/audit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "updated", entries[0]["action"], "newest first")

	rec = doJSON(t, r, http.MethodGet, "/audit?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	rec = doJSON(t, r, http.MethodGet, "/flags/ghost/audit", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheAdminEndpoints(t *testing.T) {
	r := newTestRouter(t)
	createFlag(t, r, map[string]any{"key": "cached", "name": "Cached"})

	rec := doJSON(t, r, http.MethodGet, "/cache/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "cache admin requires credential")

	rec = doJSON(t, r, http.MethodGet, "/cache/stats", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, 1.0, stats["keys"], "create warmed one entry")

	rec = doJSON(t, r, http.MethodDelete, "/cache", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cleared"}`, rec.Body.String())

	rec = doJSON(t, r, http.MethodGet, "/cache/stats", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0.0, stats["keys"])
}
