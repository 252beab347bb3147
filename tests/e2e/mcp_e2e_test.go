package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/keyvault/internal/rules"
	"github.com/rendis/keyvault/internal/search"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
	kvmcp "github.com/rendis/keyvault/pkg/mcp"
	"github.com/rendis/keyvault/pkg/schema"
)

// --- MCP test infrastructure ---

// mcpEnv holds real dependencies behind an MCP server, driven through
// full JSON-RPC round trips.
type mcpEnv struct {
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
	server *kvmcp.VaultServer
}

func newMCPEnv(t *testing.T, policies ...string) *mcpEnv {
	t.Helper()

	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:"+filepath.Join(dir, "e2e.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})

	eval, err := rules.NewEvaluator()
	require.NoError(t, err)

	searcher := search.NewSearcher(s, 4)
	t.Cleanup(searcher.Close)

	hub := streaming.NewMemoryHub()

	srv := kvmcp.NewVaultServer(kvmcp.VaultServerDeps{
		Store:     s,
		Searcher:  searcher,
		Policies:  rules.NewPolicies(policies, eval),
		Evaluator: eval,
		Hub:       hub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &mcpEnv{store: s, hub: hub, server: srv}
}

// callTool invokes a tool through HandleMessage (full JSON-RPC round trip).
func (e *mcpEnv) callTool(t *testing.T, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	initMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "e2e-test",
				"version": "1.0.0",
			},
		},
	}
	rawInit, err := json.Marshal(initMsg)
	require.NoError(t, err)

	reqMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	}
	rawReq, err := json.Marshal(reqMsg)
	require.NoError(t, err)

	ctx := context.Background()
	mcpSrv := e.server.MCPServer()

	initResp := mcpSrv.HandleMessage(ctx, rawInit)
	require.NotNil(t, initResp)

	resp := mcpSrv.HandleMessage(ctx, rawReq)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

// resultText extracts the text content from a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// resultJSON extracts a tool result's text content and parses it as JSON.
func resultJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

// --- MCP E2E Scenarios ---

// 1. Set then get over JSON-RPC.
func TestMCPSetGetRoundTrip(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp",
		"key":     "db/credentials",
		"value":   `{"user":"admin","password":"hunter2"}`,
	})
	require.False(t, result.IsError, resultText(t, result))

	got := env.callTool(t, "vault.get", map[string]any{
		"project": "proj-mcp",
		"key":     "db/credentials",
	})
	require.False(t, got.IsError, resultText(t, got))
	assert.JSONEq(t, `{"user":"admin","password":"hunter2"}`, resultText(t, got))
}

// 2. Reading an absent secret is a tool error, not a protocol error.
func TestMCPGetMissing(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.get", map[string]any{
		"project": "proj-mcp",
		"key":     "absent",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

// 3. Search over JSON-RPC.
func TestMCPSearch(t *testing.T) {
	env := newMCPEnv(t)

	for key, value := range map[string]string{
		"svc/alpha": `{"env":"prod"}`,
		"svc/beta":  `{"env":"staging"}`,
	} {
		result := env.callTool(t, "vault.set", map[string]any{
			"project": "proj-mcp", "key": key, "value": value,
		})
		require.False(t, result.IsError, resultText(t, result))
	}

	result := env.callTool(t, "vault.search", map[string]any{
		"project": "proj-mcp",
		"query":   "env:prod",
	})
	require.False(t, result.IsError, resultText(t, result))

	var wrapper struct {
		Secrets []*schema.Secret `json:"secrets"`
	}
	resultJSON(t, result, &wrapper)
	require.Len(t, wrapper.Secrets, 1)
	assert.Equal(t, "svc/alpha", wrapper.Secrets[0].SecretKey)
}

// 4. A malformed query is reported as a tool error.
func TestMCPSearchSyntaxError(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.search", map[string]any{
		"project": "proj-mcp",
		"query":   "env:",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "syntax error")
}

// 5. List over JSON-RPC.
func TestMCPList(t *testing.T) {
	env := newMCPEnv(t)

	for _, key := range []string{"db/user", "db/password", "api/token"} {
		result := env.callTool(t, "vault.set", map[string]any{
			"project": "proj-mcp", "key": key, "value": `"v"`,
		})
		require.False(t, result.IsError, resultText(t, result))
	}

	result := env.callTool(t, "vault.list", map[string]any{
		"project":      "proj-mcp",
		"key_contains": "db/",
	})
	require.False(t, result.IsError, resultText(t, result))

	var wrapper struct {
		Secrets []*schema.Secret `json:"secrets"`
	}
	resultJSON(t, result, &wrapper)
	require.Len(t, wrapper.Secrets, 2)
	assert.Equal(t, "db/password", wrapper.Secrets[0].SecretKey)
	assert.Equal(t, "db/user", wrapper.Secrets[1].SecretKey)
}

// 6. Extract over JSON-RPC.
func TestMCPExtract(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp",
		"key":     "db/config",
		"value":   `{"connection":{"host":"localhost","port":5432}}`,
	})
	require.False(t, result.IsError, resultText(t, result))

	extracted := env.callTool(t, "vault.extract", map[string]any{
		"project": "proj-mcp",
		"key":     "db/config",
		"expr":    ".connection.port",
	})
	require.False(t, extracted.IsError, resultText(t, extracted))
	assert.Equal(t, "5432", resultText(t, extracted))
}

// 7. Delete over JSON-RPC reports whether the key existed.
func TestMCPDelete(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "temp", "value": `1`,
	})
	require.False(t, result.IsError, resultText(t, result))

	del := env.callTool(t, "vault.delete", map[string]any{
		"project": "proj-mcp", "key": "temp",
	})
	require.False(t, del.IsError, resultText(t, del))
	var out struct {
		Deleted bool `json:"deleted"`
	}
	resultJSON(t, del, &out)
	assert.True(t, out.Deleted)

	again := env.callTool(t, "vault.delete", map[string]any{
		"project": "proj-mcp", "key": "temp",
	})
	require.False(t, again.IsError, resultText(t, again))
	resultJSON(t, again, &out)
	assert.False(t, out.Deleted)
}

// 8. Write policies gate MCP writes the same as HTTP ones.
func TestMCPPolicyRejection(t *testing.T) {
	env := newMCPEnv(t, `cel: key.startsWith("app/")`)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "other/key", "value": `"v"`,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "rejected by policy")

	ok := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "app/key", "value": `"v"`,
	})
	assert.False(t, ok.IsError, resultText(t, ok))
}

// 9. MCP writes land in the same audit trail as HTTP writes.
func TestMCPWritesAudited(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "k1", "value": `"one"`,
	})
	require.False(t, result.IsError, resultText(t, result))

	events, err := env.store.ListAudit(context.Background(), "proj-mcp", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventSecretUpserted, events[0].EventType)
	assert.Equal(t, "k1", events[0].SecretKey)
}

// 10. MCP writes surface on the change hub, so SSE clients watching
// the project see agent activity live.
func TestMCPWritesVisibleToStream(t *testing.T) {
	env := newMCPEnv(t)

	ch, cancel, err := env.hub.Subscribe(context.Background(),
		streaming.ChangeFilter{ProjectKey: "proj-mcp"})
	require.NoError(t, err)
	defer cancel()

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "db/password", "value": `"hunter2"`,
	})
	require.False(t, result.IsError, resultText(t, result))

	select {
	case event := <-ch:
		assert.Equal(t, "proj-mcp", event.ProjectKey)
		assert.Equal(t, "db/password", event.SecretKey)
		assert.Equal(t, schema.ChangeUpserted, event.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

// 11. Invalid JSON in a set is rejected before anything is written.
func TestMCPSetInvalidJSON(t *testing.T) {
	env := newMCPEnv(t)

	result := env.callTool(t, "vault.set", map[string]any{
		"project": "proj-mcp", "key": "bad", "value": `{"user":`,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not valid JSON")

	_, err := env.store.GetSecret(context.Background(), "proj-mcp", "bad")
	assert.Error(t, err)
}
