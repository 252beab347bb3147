package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/keyvault/internal/rules"
	"github.com/rendis/keyvault/internal/search"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
)

const (
	testReadKey  = "test-read-key"
	testWriteKey = "test-write-key"
)

type testServer struct {
	*httptest.Server
	store *store.LibSQLStore
	hub   *streaming.MemoryHub
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithPolicies(t, nil)
}

func newTestServerWithPolicies(t *testing.T, policies []string) *testServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "vault.db")
	st, err := store.NewLibSQLStore("file:"+dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	eval, err := rules.NewEvaluator()
	require.NoError(t, err)

	searcher := search.NewSearcher(st, 4)
	t.Cleanup(searcher.Close)

	hub := streaming.NewMemoryHub()

	srv := NewServer(Deps{
		Store:     st,
		Searcher:  searcher,
		Policies:  rules.NewPolicies(policies, eval),
		Evaluator: eval,
		Hub:       hub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReadKey:   testReadKey,
		WriteKey:  testWriteKey,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, store: st, hub: hub}
}

// do issues a request with the vault headers. Empty apiKey or project
// leaves the corresponding header unset.
func (ts *testServer) do(t *testing.T, method, path, apiKey, project, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	if project != "" {
		req.Header.Set("x-project-key", project)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// errorEnvelope asserts the response carries the JSON error envelope.
func errorEnvelope(t *testing.T, resp *http.Response) (msg, code string) {
	t.Helper()
	var body map[string]string
	readJSON(t, resp, &body)
	return body["error"], body["code"]
}

// --- Health ---

func TestHealthz_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	readJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

// --- Auth matrix ---

func TestAuth_ReadRouteAcceptsEitherKey(t *testing.T) {
	ts := newTestServer(t)

	for _, key := range []string{testReadKey, testWriteKey} {
		resp := ts.do(t, http.MethodGet, "/secrets", key, "proj-a", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "key %q should read", key)
		resp.Body.Close()
	}
}

func TestAuth_ReadRouteRejectsBadKey(t *testing.T) {
	ts := newTestServer(t)

	for _, key := range []string{"", "wrong-key"} {
		resp := ts.do(t, http.MethodGet, "/secrets", key, "proj-a", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		msg, code := errorEnvelope(t, resp)
		assert.Equal(t, "Read key invalid", msg)
		assert.Equal(t, "UNAUTHORIZED", code)
	}
}

func TestAuth_WriteRouteRejectsReadKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPut, "/secrets/k1", testReadKey, "proj-a", `{"value":1}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	msg, code := errorEnvelope(t, resp)
	assert.Equal(t, "Write key invalid", msg)
	assert.Equal(t, "UNAUTHORIZED", code)

	resp = ts.do(t, http.MethodDelete, "/secrets/k1", testReadKey, "proj-a", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuth_MissingProjectHeader(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/secrets", testReadKey, "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	msg, code := errorEnvelope(t, resp)
	assert.Equal(t, "Missing X-PROJECT-KEY", msg)
	assert.Equal(t, "VALIDATION_ERROR", code)
}

func TestAuth_KeyCheckedBeforeProject(t *testing.T) {
	ts := newTestServer(t)

	// Both the key and the project header are bad; the key error wins.
	resp := ts.do(t, http.MethodGet, "/secrets", "wrong-key", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	msg, _ := errorEnvelope(t, resp)
	assert.Equal(t, "Read key invalid", msg)
}

// --- CORS ---

func TestCORS_Preflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/secrets/k1", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestCORS_HeadersOnNormalResponse(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/secrets", testReadKey, "proj-a", "")
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// --- Request ID ---

func TestRequestID_Assigned(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestID_CallerValueEchoed(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "caller-supplied-id", resp.Header.Get("X-Request-ID"))
}
