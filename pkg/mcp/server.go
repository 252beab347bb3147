package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/keyvault/internal/rules"
	"github.com/rendis/keyvault/internal/search"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
)

// VaultServerDeps holds the dependencies for creating a VaultServer.
type VaultServerDeps struct {
	Store     store.Store
	Searcher  *search.Searcher
	Policies  *rules.Policies
	Evaluator *rules.Evaluator
	Hub       streaming.ChangeHub
	Sessions  *SessionRegistry
	Logger    *slog.Logger
}

// VaultServer wraps an MCP server with vault-specific tool handlers.
// The MCP transport trusts the local process boundary, so API keys are
// not re-checked here; every tool call still names its project.
type VaultServer struct {
	store     store.Store
	searcher  *search.Searcher
	policies  *rules.Policies
	evaluator *rules.Evaluator
	hub       streaming.ChangeHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewVaultServer creates a new VaultServer with all 6 tools registered.
func NewVaultServer(deps VaultServerDeps) *VaultServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &VaultServer{
		store:     deps.Store,
		searcher:  deps.Searcher,
		policies:  deps.Policies,
		evaluator: deps.Evaluator,
		hub:       deps.Hub,
		sessions:  sessions,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"keyvault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Keyvault is a self-hosted secrets vault for coding agents. Use vault.get, vault.set and vault.delete to manage single secrets, vault.list and vault.search to find them, and vault.extract to pull a fragment out of a secret value with a jq expression. Every call names its project explicitly."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *VaultServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VaultServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Watch forwards change events from the hub to the sessions watching the
// affected projects. It blocks until ctx is cancelled.
func (s *VaultServer) Watch(ctx context.Context) error {
	events, cancel, err := s.hub.Subscribe(ctx, streaming.ChangeFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	notifier := NewChangeNotifier(s.mcpServer, s.sessions)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if notifyErr := notifier.Notify(ctx, event); notifyErr != nil {
				s.logger.WarnContext(ctx, "change notification failed",
					slog.String("project_key", event.ProjectKey),
					slog.String("error", notifyErr.Error()))
			}
		}
	}
}

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *VaultServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: setTool(), Handler: s.handleSet},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: searchTool(), Handler: s.handleSearch},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: extractTool(), Handler: s.handleExtract},
	}
}

// --- Tool definitions ---

func getTool() mcp.Tool {
	return mcp.NewTool("vault.get",
		mcp.WithDescription("Read a secret's JSON value"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key that scopes the secret")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Secret key, e.g. db/password")),
	)
}

func setTool() mcp.Tool {
	return mcp.NewTool("vault.set",
		mcp.WithDescription("Create or replace a secret. Write policies apply."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key that scopes the secret")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Secret key, e.g. db/password")),
		mcp.WithString("value", mcp.Required(), mcp.Description(`Secret value as JSON text, e.g. {"user":"admin"} or "hunter2"`)),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("vault.delete",
		mcp.WithDescription("Delete a secret. Deleting an absent key is not an error."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key that scopes the secret")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Secret key to delete")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("vault.search",
		mcp.WithDescription("Search a project's secrets with a boolean query over keys and values"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key to search in")),
		mcp.WithString("query", mcp.Description(`Boolean query, e.g. env:prod -"staging" OR db.*; empty matches every secret`)),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("vault.list",
		mcp.WithDescription("List a project's secrets in key order"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key to list")),
		mcp.WithString("key_contains", mcp.Description("Only return secrets whose key contains this substring")),
	)
}

func extractTool() mcp.Tool {
	return mcp.NewTool("vault.extract",
		mcp.WithDescription("Run a jq expression against a secret's JSON value and return the extracted fragment"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key that scopes the secret")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Secret key to extract from")),
		mcp.WithString("expr", mcp.Required(), mcp.Description("jq expression, e.g. .connection.port")),
	)
}
