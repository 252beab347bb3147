package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
	"github.com/rendis/keyvault/pkg/schema"
)

// handleGet returns a secret's raw JSON value.
func (s *VaultServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	s.captureSession(ctx, project)

	sec, getErr := s.store.GetSecret(ctx, project, key)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
	}
	return mcp.NewToolResultJSON(sec.SecretValue)
}

// handleSet creates or replaces a secret after the write policies pass.
func (s *VaultServer) handleSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	text, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError("value is required"), nil
	}

	var value json.RawMessage
	if jsonErr := json.Unmarshal([]byte(text), &value); jsonErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("value is not valid JSON: %v", jsonErr)), nil
	}

	s.captureSession(ctx, project)

	if policyErr := s.policies.Check(ctx, project, key, value); policyErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("write rejected: %v", policyErr)), nil
	}
	if upsertErr := s.store.UpsertSecret(ctx, project, key, value); upsertErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("set failed: %v", upsertErr)), nil
	}

	s.recordChange(ctx, project, key, schema.EventSecretUpserted, schema.ChangeUpserted,
		json.RawMessage(fmt.Sprintf(`{"size":%d}`, len(value))))

	return marshalResult(map[string]any{"project": project, "key": key, "ok": true})
}

// handleDelete removes a secret. Deleting an absent key is not an error.
func (s *VaultServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	s.captureSession(ctx, project)

	existed, delErr := s.store.DeleteSecret(ctx, project, key)
	if delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
	}
	if existed {
		s.recordChange(ctx, project, key, schema.EventSecretDeleted, schema.ChangeDeleted, nil)
	}
	return marshalResult(map[string]any{"project": project, "key": key, "deleted": existed})
}

// handleSearch runs a boolean query over a project's secrets.
func (s *VaultServer) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	query := req.GetString("query", "")

	s.captureSession(ctx, project)

	results, searchErr := s.searcher.Search(ctx, project, query)
	if searchErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", searchErr)), nil
	}
	if results == nil {
		results = []*schema.Secret{}
	}
	return marshalResult(map[string]any{"secrets": results})
}

// handleList returns a project's secrets in key order.
func (s *VaultServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	keyContains := req.GetString("key_contains", "")

	s.captureSession(ctx, project)

	secrets, listErr := s.store.ListSecrets(ctx, project, keyContains)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	if secrets == nil {
		secrets = []*schema.Secret{}
	}
	return marshalResult(map[string]any{"secrets": secrets})
}

// handleExtract runs a jq expression against a secret's value.
func (s *VaultServer) handleExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("project is required"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	expr, err := req.RequireString("expr")
	if err != nil {
		return mcp.NewToolResultError("expr is required"), nil
	}

	s.captureSession(ctx, project)

	sec, getErr := s.store.GetSecret(ctx, project, key)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
	}
	out, evalErr := s.evaluator.Extract(ctx, expr, sec.SecretValue)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extract failed: %v", evalErr)), nil
	}
	return marshalResult(out)
}

// recordChange appends the audit event and fans the change out to stream
// subscribers. The write already committed, so failures are logged only.
func (s *VaultServer) recordChange(ctx context.Context, project, key, eventType string, change schema.ChangeType, detail json.RawMessage) {
	if err := s.store.AppendAudit(ctx, &store.AuditEvent{
		ProjectKey: project,
		SecretKey:  key,
		EventType:  eventType,
		Detail:     detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			slog.String("project_key", project),
			slog.String("error", err.Error()))
	}
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, streaming.ChangeEvent{
		ProjectKey: project,
		SecretKey:  key,
		EventType:  change,
	}); err != nil {
		s.logger.ErrorContext(ctx, "change publish failed",
			slog.String("project_key", project),
			slog.String("error", err.Error()))
	}
}

// captureSession maps the project key to the calling MCP session so change
// notifications for that project reach the agent.
func (s *VaultServer) captureSession(ctx context.Context, project string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(project, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
