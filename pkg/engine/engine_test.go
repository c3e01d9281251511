package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perturbd/perturbd/pkg/chaos"
	"github.com/perturbd/perturbd/pkg/config"
	"github.com/perturbd/perturbd/pkg/logging"
	"github.com/perturbd/perturbd/pkg/replay"
)

func usersConfig() *config.Config {
	cfg := config.Default()
	cfg.Resources = []config.ResourceConfig{
		{
			Name:       "users",
			EnableCrud: true,
			Seed: []map[string]interface{}{
				{"id": "u1", "name": "Ada"},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Snapshot().Close() })
	return srv
}

func doRequest(srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestCRUDLifecycle(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	// Seeded list.
	w := doRequest(srv, "GET", "/api/users", "", nil)
	require.Equal(t, 200, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Ada", list[0]["name"])

	// Create; the response id must be consistent with a subsequent read.
	w = doRequest(srv, "POST", "/api/users", `{"name":"Grace"}`, nil)
	require.Equal(t, 201, w.Code, "body: %s", w.Body.String())
	created := decodeJSON(t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/users/"+id, w.Header().Get("Location"))

	w = doRequest(srv, "GET", "/api/users/"+id, "", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "Grace", decodeJSON(t, w)["name"])

	// Update merges and never changes the id.
	w = doRequest(srv, "PUT", "/api/users/"+id, `{"id":"hijack","name":"Grace Hopper"}`, nil)
	require.Equal(t, 200, w.Code)
	updated := decodeJSON(t, w)
	assert.Equal(t, id, updated["id"])
	assert.Equal(t, "Grace Hopper", updated["name"])

	// Delete is idempotent in outcome.
	w = doRequest(srv, "DELETE", "/api/users/"+id, "", nil)
	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.String())

	w = doRequest(srv, "DELETE", "/api/users/"+id, "", nil)
	assert.Equal(t, 404, w.Code)

	// Read after delete.
	w = doRequest(srv, "GET", "/api/users/"+id, "", nil)
	assert.Equal(t, 404, w.Code)
	assert.Equal(t, "not_found", decodeJSON(t, w)["error"])
}

func TestListPaginationAndOrder(t *testing.T) {
	cfg := usersConfig()
	cfg.Resources[0].Seed = []map[string]interface{}{
		{"id": "c"}, {"id": "a"}, {"id": "b"},
	}
	srv := newTestServer(t, cfg)

	w := doRequest(srv, "GET", "/api/users?limit=2&offset=1", "", nil)
	require.Equal(t, 200, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0]["id"])
	assert.Equal(t, "c", list[1]["id"])
}

func TestCreateBadBody(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	w := doRequest(srv, "POST", "/api/users", `{not json`, nil)
	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "bad_request", decodeJSON(t, w)["error"])

	w = doRequest(srv, "POST", "/api/users", "", nil)
	assert.Equal(t, 400, w.Code)
}

func TestBodySizeCap(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	big := `{"name":"` + strings.Repeat("x", 1<<20) + `"}`
	w := doRequest(srv, "POST", "/api/users", big, nil)
	assert.Equal(t, 400, w.Code)
	assert.Contains(t, decodeJSON(t, w)["message"], "size limit")
}

func TestCreateConflict(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	w := doRequest(srv, "POST", "/api/users", `{"id":"u1","name":"Clone"}`, nil)
	assert.Equal(t, 409, w.Code)
	assert.Equal(t, "conflict", decodeJSON(t, w)["error"])
}

func TestNotFoundListsRoutes(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	w := doRequest(srv, "GET", "/nope", "", nil)
	require.Equal(t, 404, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "/nope", body["path"])
	assert.Equal(t, "GET", body["method"])

	routes, ok := body["availableRoutes"].([]interface{})
	require.True(t, ok, "404 must list available routes")
	assert.Contains(t, routes, "GET /api/users")
	assert.Contains(t, routes, "POST /api/users")
	assert.Contains(t, routes, "GET /api/users/{id}")
}

func TestAuth(t *testing.T) {
	cfg := usersConfig()
	cfg.AuthToken = "s3cret"
	srv := newTestServer(t, cfg)

	// GET is never gated.
	w := doRequest(srv, "GET", "/api/users", "", nil)
	assert.Equal(t, 200, w.Code)

	// Mutating routes require the exact bearer token.
	w = doRequest(srv, "POST", "/api/users", `{"name":"x"}`, nil)
	require.Equal(t, 401, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Contains(t, body["hint"], "Bearer")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "exact token", header: "Bearer s3cret", want: 201},
		{name: "wrong token", header: "Bearer nope", want: 401},
		{name: "wrong scheme", header: "Basic s3cret", want: 401},
		{name: "trailing space", header: "Bearer s3cret ", want: 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, "POST", "/api/users", fmt.Sprintf(`{"name":%q}`, tt.name),
				map[string]string{"Authorization": tt.header})
			assert.Equal(t, tt.want, w.Code, "body: %s", w.Body.String())
		})
	}

	// PUT and DELETE are gated the same way.
	w = doRequest(srv, "PUT", "/api/users/u1", `{"name":"x"}`, nil)
	assert.Equal(t, 401, w.Code)
	w = doRequest(srv, "DELETE", "/api/users/u1", "", nil)
	assert.Equal(t, 401, w.Code)

	w = doRequest(srv, "DELETE", "/api/users/u1", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, 204, w.Code)
}

func TestChaosFailRateOne(t *testing.T) {
	cfg := usersConfig()
	cfg.ChaosFailRate = 1.0
	srv := newTestServer(t, cfg)

	before := srv.Snapshot().Store("users").Count()

	for i := 0; i < 20; i++ {
		w := doRequest(srv, "POST", "/api/users", `{"name":"never stored"}`, nil)
		require.Equal(t, 500, w.Code)
		assert.Equal(t, chaos.ErrorCode, decodeJSON(t, w)["error"])
	}

	// The failure happens before routing; the store is untouched.
	assert.Equal(t, before, srv.Snapshot().Store("users").Count())
}

func TestChaosLatency(t *testing.T) {
	cfg := usersConfig()
	cfg.ArtificialLatencyMs = 100
	srv := newTestServer(t, cfg)

	start := time.Now()
	w := doRequest(srv, "GET", "/api/users", "", nil)
	elapsed := time.Since(start)

	assert.Equal(t, 200, w.Code)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestCORSAndOptions(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	w := doRequest(srv, "OPTIONS", "/api/users", "", nil)
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// Every response carries the CORS headers, errors included.
	w = doRequest(srv, "GET", "/nope", "", nil)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPathNormalization(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	for _, target := range []string{"/api//users", "/api/users/", "/api//users/"} {
		w := doRequest(srv, "GET", target, "", nil)
		assert.Equal(t, 200, w.Code, "path %q must normalize to /api/users", target)
	}
}

func TestStaticEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.StaticEndpoints = []config.StaticEndpointConfig{
		{Method: "GET", Path: "/status", Status: 200, Response: "all good"},
		{Method: "GET", Path: "/teapot", Status: 418, Response: map[string]interface{}{"short": true, "stout": true}},
		{Method: "POST", Path: "/echo", Status: 200, EchoRequest: true},
	}
	cfg.ApplyDefaults()
	srv := newTestServer(t, cfg)

	w := doRequest(srv, "GET", "/status", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "all good", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	w = doRequest(srv, "GET", "/teapot", "", nil)
	assert.Equal(t, 418, w.Code)
	assert.Equal(t, true, decodeJSON(t, w)["short"])

	w = doRequest(srv, "POST", "/echo?verbose=1", `{"ping":"pong"}`, map[string]string{"X-Probe": "yes"})
	require.Equal(t, 200, w.Code)
	echo := decodeJSON(t, w)
	assert.Equal(t, "POST", echo["method"])
	assert.Equal(t, "/echo", echo["path"])
	assert.Equal(t, "pong", echo["body"].(map[string]interface{})["ping"])
	assert.Equal(t, "yes", echo["headers"].(map[string]interface{})["X-Probe"])
}

func TestTemplatedStaticEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Features.Templating = true
	cfg.StaticEndpoints = []config.StaticEndpointConfig{
		{Method: "GET", Path: "/greet/{name}", Status: 200, Response: map[string]interface{}{
			"greeting": "hello {{path.name}}",
			"token":    "{{uuid}}",
			"echoed":   "{{query.q}}",
		}},
	}
	cfg.ApplyDefaults()
	srv := newTestServer(t, cfg)

	w := doRequest(srv, "GET", "/greet/ada?q=42", "", nil)
	require.Equal(t, 200, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "hello ada", body["greeting"])
	assert.Equal(t, "42", body["echoed"])
	_, err := uuid.Parse(body["token"].(string))
	assert.NoError(t, err, "{{uuid}} must render a valid UUID")

	// A second request draws a fresh identifier.
	w = doRequest(srv, "GET", "/greet/ada?q=42", "", nil)
	require.Equal(t, 200, w.Code)
	assert.NotEqual(t, body["token"], decodeJSON(t, w)["token"],
		"each request must render a distinct uuid")
}

func TestTemplatingDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Features.Templating = false
	cfg.StaticEndpoints = []config.StaticEndpointConfig{
		{Method: "GET", Path: "/raw", Status: 200, Response: "literal {{uuid}}"},
	}
	cfg.ApplyDefaults()
	srv := newTestServer(t, cfg)

	w := doRequest(srv, "GET", "/raw", "", nil)
	assert.Equal(t, "literal {{uuid}}", w.Body.String())
}

func TestSchemaValidationModes(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name"},
	}

	strictCfg := usersConfig()
	strictCfg.Features.SchemaValidation = config.SchemaStrict
	strictCfg.Resources[0].Schema = schema
	srv := newTestServer(t, strictCfg)

	w := doRequest(srv, "POST", "/api/users", `{"nope":1}`, nil)
	assert.Equal(t, 400, w.Code, "strict mode rejects invalid records")

	w = doRequest(srv, "POST", "/api/users", `{"name":"ok"}`, nil)
	assert.Equal(t, 201, w.Code)

	lenientCfg := usersConfig()
	lenientCfg.Resources[0].Schema = schema
	srv = newTestServer(t, lenientCfg)

	w = doRequest(srv, "POST", "/api/users", `{"nope":1}`, nil)
	assert.Equal(t, 201, w.Code, "lenient mode logs and accepts")
}

func TestStrictSeedValidationFailsStartup(t *testing.T) {
	cfg := usersConfig()
	cfg.Features.SchemaValidation = config.SchemaStrict
	cfg.Resources[0].Schema = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"email"},
	}

	_, err := NewServer(cfg, logging.Nop())
	require.Error(t, err, "strict mode must refuse seed data that fails the schema")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	// At least one dispatched request so the counters have children.
	require.Equal(t, 200, doRequest(srv, "GET", "/api/users", "", nil).Code)

	w := doRequest(srv, "GET", "/__perturbd/health", "", nil)
	require.Equal(t, 200, w.Code)
	health := decodeJSON(t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["resources"])

	w = doRequest(srv, "GET", "/__perturbd/metrics", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "perturbd_requests_total")
}

func TestRecordThenReplay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "traffic.ndjson")

	recordCfg := usersConfig()
	recordCfg.Features.RecordReplay = config.RecordReplay{
		Mode: replay.ModeRecord,
		File: file,
	}
	recordCfg.ApplyDefaults()
	recSrv := newTestServer(t, recordCfg)

	want := doRequest(recSrv, "GET", "/api/users/u1", "", nil)
	require.Equal(t, 200, want.Code)
	doRequest(recSrv, "GET", "/nope", "", nil) // 404s are recorded too
	require.NoError(t, recSrv.Snapshot().Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimRight(string(data), "\n"), "\n"), 2)

	// Replay against an empty resource set: hits come from the log.
	replayCfg := config.Default()
	replayCfg.Features.RecordReplay = config.RecordReplay{
		Mode:         replay.ModeReplay,
		File:         file,
		ReplayOnMiss: replay.MissError,
	}
	replayCfg.ApplyDefaults()
	repSrv := newTestServer(t, replayCfg)

	got := doRequest(repSrv, "GET", "/api/users/u1", "", nil)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Body.String(), got.Body.String(), "replayed body must be byte-identical")
	assert.Equal(t, want.Header().Get("Content-Type"), got.Header().Get("Content-Type"))

	// The recorded 404 replays as well, matched on method+path.
	got = doRequest(repSrv, "GET", "/nope", "", nil)
	assert.Equal(t, 404, got.Code)

	// Misses surface as 501 under the error policy.
	got = doRequest(repSrv, "GET", "/never-recorded", "", nil)
	assert.Equal(t, 501, got.Code)
	assert.Equal(t, "replay_miss", decodeJSON(t, got)["error"])
}

func TestReplayMissFallback(t *testing.T) {
	file := filepath.Join(t.TempDir(), "traffic.ndjson")
	require.NoError(t, os.WriteFile(file,
		[]byte(`{"request":{"method":"GET","path":"/elsewhere"},"response":{"status":200}}`+"\n"), 0644))

	cfg := usersConfig()
	cfg.Features.RecordReplay = config.RecordReplay{
		Mode:         replay.ModeReplay,
		File:         file,
		ReplayOnMiss: replay.MissFallback,
	}
	cfg.ApplyDefaults()
	srv := newTestServer(t, cfg)

	// Miss falls through to normal routing.
	w := doRequest(srv, "GET", "/api/users/u1", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "Ada", decodeJSON(t, w)["name"])
}

func TestSwap(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	w := doRequest(srv, "GET", "/api/users/u1", "", nil)
	require.Equal(t, 200, w.Code)

	next := config.Default()
	next.Resources = []config.ResourceConfig{
		{
			Name:       "orders",
			EnableCrud: true,
			Seed:       []map[string]interface{}{{"id": "o1", "total": float64(9)}},
		},
	}
	next.ApplyDefaults()
	require.NoError(t, srv.Swap(next))

	// Old routes are gone, new ones serve.
	w = doRequest(srv, "GET", "/api/users/u1", "", nil)
	assert.Equal(t, 404, w.Code)
	w = doRequest(srv, "GET", "/api/orders/o1", "", nil)
	assert.Equal(t, 200, w.Code)
}

func TestSwapKeepsServingOnBuildFailure(t *testing.T) {
	srv := newTestServer(t, usersConfig())

	bad := config.Default()
	bad.Chaos = &config.ChaosSection{Rules: []chaos.Rule{{PathPattern: "[broken"}}}

	require.Error(t, srv.Swap(bad))

	// The previous snapshot keeps serving.
	w := doRequest(srv, "GET", "/api/users/u1", "", nil)
	assert.Equal(t, 200, w.Code)
}

func TestRouteOrderCRUDBeforeStatic(t *testing.T) {
	cfg := usersConfig()
	cfg.StaticEndpoints = []config.StaticEndpointConfig{
		// Same shape as the CRUD item route; declared later, so the
		// CRUD route wins for GET /api/users/u1.
		{Method: "GET", Path: "/api/users/{id}", Status: 299, Response: "shadowed"},
	}
	cfg.ApplyDefaults()
	srv := newTestServer(t, cfg)

	w := doRequest(srv, "GET", "/api/users/u1", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "Ada", decodeJSON(t, w)["name"])
}
