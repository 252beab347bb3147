package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/keyvault/internal/streaming"
)

// ChangeNotifier pushes secret change events to the MCP session watching
// the affected project.
type ChangeNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewChangeNotifier creates a notifier that pushes via MCP notifications.
func NewChangeNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *ChangeNotifier {
	return &ChangeNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends one change event to the session watching its project.
// Best-effort: returns nil if no session watches the project.
func (n *ChangeNotifier) Notify(_ context.Context, event streaming.ChangeEvent) error {
	sessionID, ok := n.sessions.SessionFor(event.ProjectKey)
	if !ok {
		return nil // nobody watching, best-effort
	}
	payload := map[string]any{
		"project_key": event.ProjectKey,
		"secret_key":  event.SecretKey,
		"event_type":  string(event.EventType),
		"at":          event.At,
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send; not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
