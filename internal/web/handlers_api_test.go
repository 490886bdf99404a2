package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"winmaint/internal/catalog"
	"winmaint/internal/events"
	"winmaint/internal/host"
	"winmaint/internal/repository"
	"winmaint/internal/runner"
	"winmaint/internal/script"
	"winmaint/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func luaDoc(name, code string) string {
	return fmt.Sprintf(`names:
  - lang: en
    text: %s
category: Maintenance
safety: Safe
impact: Low
versions: ">=6.1"
actions:
  Execute:
    host: Lua
    code: %q
`, name, code)
}

type testEnv struct {
	srv  *Server
	user *repository.FileRepository
	sup  *runner.Supervisor
	db   *store.BoltStore
	bus  *events.Bus
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	logger := testLogger()

	cat, err := catalog.Default()
	require.NoError(t, err)
	registry, err := host.NewRegistry(cat, host.NewProcessTree(), logger)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quick.yaml"), []byte(luaDoc("Quick", "return 0")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slow.yaml"), []byte(luaDoc("Slow", "sleep(30)")), 0o644))

	user, err := repository.NewFileRepository(dir, repository.Options{
		Catalog:         cat,
		DefaultVersions: script.MustParseVersionRange(">=6.1"),
	}, logger)
	require.NoError(t, err)

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(logger)
	sup := runner.NewSupervisor(registry, runner.Options{
		Config:    runner.Config{Timeout: time.Minute},
		Estimator: db,
		Recorder:  db,
		Bus:       bus,
	}, runner.HangPolicy{Wait: time.Minute, Default: host.KeepRunning}, logger)

	opts := []ServerOption{WithUserScripts(user), WithHistory(db), WithEstimator(db), WithVersion("1.2.3")}
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(repository.Stack{user}, sup, bus, logger, opts...)
	t.Cleanup(srv.Stop)
	t.Cleanup(func() {
		if run := sup.Current(); run != nil {
			run.Abort()
			run.Wait()
		}
	})

	return &testEnv{srv: srv, user: user, sup: sup, db: db, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestAPIListScripts(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "GET", "/api/scripts", "")
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]ScriptView](t, w)
	require.Len(t, views, 2)
	require.Equal(t, "Quick", views[0].Name)
	require.Equal(t, "Maintenance", views[0].Category)
	require.True(t, views[0].Mutable)
	require.Equal(t, "at least 0s", views[0].Estimate)
	require.Empty(t, views[0].Actions, "list omits action bodies")
}

func TestAPIGetScript(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "GET", "/api/scripts/Slow", "")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[ScriptView](t, w)
	require.Len(t, v.Actions, 1)
	require.Equal(t, "Lua", v.Actions[0].Host)
	require.Equal(t, "sleep(30)", v.Actions[0].Code)

	w = env.do(t, "GET", "/api/scripts/Missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIImportAndDeleteScript(t *testing.T) {
	env := setupTestServer(t, "")
	var changes int
	env.bus.On(events.RepoChanged, func(events.Event) { changes++ })

	src := filepath.Join(t.TempDir(), "imported.yaml")
	require.NoError(t, os.WriteFile(src, []byte(luaDoc("Imported", "return 0")), 0o644))

	body, _ := json.Marshal(importScriptRequest{Path: src})
	w := env.do(t, "POST", "/api/scripts/import", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.True(t, env.user.Contains(decodeScript(t, env, "Imported")))

	w = env.do(t, "POST", "/api/scripts/import", string(body))
	require.Equal(t, http.StatusConflict, w.Code)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("names: ["), 0o644))
	body, _ = json.Marshal(importScriptRequest{Path: bad})
	w = env.do(t, "POST", "/api/scripts/import", string(body))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body, _ = json.Marshal(importScriptRequest{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	w = env.do(t, "POST", "/api/scripts/import", string(body))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "DELETE", "/api/scripts/Imported", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := env.user.Get("Imported")
	require.False(t, ok)

	w = env.do(t, "DELETE", "/api/scripts/Imported", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, 2, changes)
}

func decodeScript(t *testing.T, env *testEnv, name string) *script.Script {
	t.Helper()
	s, ok := env.user.Get(name)
	require.True(t, ok)
	return s
}

func TestAPIReloadScripts(t *testing.T) {
	env := setupTestServer(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(env.user.Dir(), "late.yaml"), []byte(luaDoc("Late", "return 0")), 0o644))

	w := env.do(t, "POST", "/api/scripts/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]int{"count": 3}, decode[map[string]int](t, w))
}

func TestAPIRunLifecycle(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "GET", "/api/runs/current", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, "POST", "/api/runs/current/pause", "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/runs", `{"scripts": ["Nope"]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, "POST", "/api/runs", `{"scripts": []}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/runs", `{"scripts": ["Slow", "Quick"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[map[string]string](t, w)["id"]
	require.NotEmpty(t, id)

	w = env.do(t, "POST", "/api/runs", `{"scripts": ["Quick"]}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/api/runs/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[RunView](t, w)
	require.Equal(t, id, v.ID)
	require.Equal(t, "running", v.State)
	require.Len(t, v.Scripts, 2)

	w = env.do(t, "POST", "/api/runs/current/hang", `{"decision": "kill"}`)
	require.Equal(t, http.StatusConflict, w.Code, "no prompt open")
	w = env.do(t, "POST", "/api/runs/current/hang", `{"decision": "later"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/runs/current/abort", "")
	require.Equal(t, http.StatusOK, w.Code)
	sum := env.sup.Current().Wait()
	require.Equal(t, runner.Aborted, sum.State)

	w = env.do(t, "GET", "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[store.Run](t, w)
	require.Equal(t, "aborted", saved.State)
	require.Len(t, saved.Scripts, 2)

	w = env.do(t, "GET", "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]store.Run](t, w), 1)

	w = env.do(t, "GET", "/api/runs?limit=x", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, "GET", "/api/runs/unknown", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIQuickRunRecordsDuration(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "POST", "/api/runs", `{"scripts": ["Quick"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	sum := env.sup.Current().Wait()
	require.Equal(t, runner.Completed, sum.State)

	stats, err := env.db.Durations("Quick")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Count)
}

func TestAPIVersion(t *testing.T) {
	env := setupTestServer(t, "")
	w := env.do(t, "GET", "/api/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1.2.3", decode[map[string]string](t, w)["version"])
}

func TestAPIKeyRequired(t *testing.T) {
	env := setupTestServer(t, "secret")

	w := env.do(t, "GET", "/api/scripts", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/scripts", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t, "")
	WithAllowedOrigins([]string{"http://console.local"})(env.srv)

	req := httptest.NewRequest("OPTIONS", "/api/runs", nil)
	req.Header.Set("Origin", "http://console.local")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://console.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("POST", "/api/scripts/reload", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
