package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/keyvault/internal/logging"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
	"github.com/rendis/keyvault/pkg/schema"
)

// handleHealthz reports liveness. No auth, no project scoping.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetSecret returns the raw JSON value of one secret.
func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)
	key := r.PathValue("key")

	sec, err := s.deps.Store.GetSecret(ctx, project, key)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			writeError(w, http.StatusNotFound, "Not found", schema.ErrCodeNotFound)
			return
		}
		writeVaultError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, sec.SecretValue)
}

// handlePutSecret upserts the secret named in the path.
func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), schema.ErrCodeValidation)
		return
	}
	if body.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required", schema.ErrCodeValidation)
		return
	}
	s.upsertSecret(w, r, r.PathValue("key"), body.Value)
}

// handlePostSecret upserts the secret named in the body.
func (s *Server) handlePostSecret(w http.ResponseWriter, r *http.Request) {
	var body schema.SecretInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), schema.ErrCodeValidation)
		return
	}
	if body.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required", schema.ErrCodeValidation)
		return
	}
	if body.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required", schema.ErrCodeValidation)
		return
	}
	s.upsertSecret(w, r, body.Key, body.Value)
}

// upsertSecret runs the shared write path: policy gate, store write,
// audit event, live change.
func (s *Server) upsertSecret(w http.ResponseWriter, r *http.Request, key string, value json.RawMessage) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	if err := s.deps.Policies.Check(ctx, project, key, value); err != nil {
		writeVaultError(w, err)
		return
	}
	if err := s.deps.Store.UpsertSecret(ctx, project, key, value); err != nil {
		writeVaultError(w, err)
		return
	}

	s.recordChange(ctx, project, key, schema.EventSecretUpserted, schema.ChangeUpserted, sizeDetail(len(value)))
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteSecret removes a secret. Deletes carry no value, so the
// policy gate does not apply.
func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)
	key := r.PathValue("key")

	existed, err := s.deps.Store.DeleteSecret(ctx, project, key)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if existed {
		s.recordChange(ctx, project, key, schema.EventSecretDeleted, schema.ChangeDeleted, nil)
	}
	// Deleting an absent key is still a success.
	w.WriteHeader(http.StatusNoContent)
}

// handleListSecrets returns the project's secrets, optionally narrowed
// by a key_contains substring.
func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	secrets, err := s.deps.Store.ListSecrets(ctx, project, r.URL.Query().Get("key_contains"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if secrets == nil {
		secrets = []*schema.Secret{}
	}
	writeJSON(w, http.StatusOK, secrets)
}

// handleSearch evaluates a boolean search query over the project.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	var body schema.SearchInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), schema.ErrCodeValidation)
		return
	}

	results, err := s.deps.Searcher.Search(ctx, project, body.Query)
	if err != nil {
		var vErr *schema.VaultError
		if errors.As(err, &vErr) && vErr.Code == schema.ErrCodeQuerySyntax {
			writeError(w, http.StatusBadRequest, "Query parse error: "+vErr.Message, vErr.Code)
			return
		}
		writeVaultError(w, err)
		return
	}
	if results == nil {
		results = []*schema.Secret{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleImport validates and writes a batch of secrets atomically.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err), schema.ErrCodeValidation)
		return
	}

	result, err := s.deps.Validator.Validate(raw)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if !result.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "import payload invalid",
			"code":       schema.ErrCodeValidation,
			"violations": result.Errors,
		})
		return
	}

	var payload schema.ImportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), schema.ErrCodeValidation)
		return
	}

	// The policy gate covers every entry before anything is written.
	for _, entry := range payload.Secrets {
		if err := s.deps.Policies.Check(ctx, project, entry.Key, entry.Value); err != nil {
			writeVaultError(w, err)
			return
		}
	}

	count, err := s.deps.Store.ImportSecrets(ctx, project, payload.Secrets)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	s.appendAudit(ctx, &store.AuditEvent{
		ProjectKey: project,
		EventType:  schema.EventSecretsImported,
		Detail:     countDetail(count),
	})
	for _, entry := range payload.Secrets {
		s.publish(ctx, streaming.ChangeEvent{
			ProjectKey: project,
			SecretKey:  entry.Key,
			EventType:  schema.ChangeUpserted,
		})
	}

	writeJSON(w, http.StatusOK, schema.ImportResult{Imported: count})
}

// handleExport dumps the whole project in a shape the import endpoint
// accepts back.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	secrets, err := s.deps.Store.ListSecrets(ctx, project, "")
	if err != nil {
		writeVaultError(w, err)
		return
	}

	dump := schema.ExportPayload{
		ProjectKey: project,
		Secrets:    make([]schema.SecretInput, 0, len(secrets)),
	}
	for _, sec := range secrets {
		dump.Secrets = append(dump.Secrets, schema.SecretInput{Key: sec.SecretKey, Value: sec.SecretValue})
	}
	writeJSON(w, http.StatusOK, dump)
}

// handleExtract runs a jq expression against one secret's value and
// returns the extracted JSON.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)
	key := r.PathValue("key")

	sec, err := s.deps.Store.GetSecret(ctx, project, key)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			writeError(w, http.StatusNotFound, "Not found", schema.ErrCodeNotFound)
			return
		}
		writeVaultError(w, err)
		return
	}

	result, err := s.deps.Evaluator.Extract(ctx, r.URL.Query().Get("expr"), sec.SecretValue)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAudit returns a page of the project's audit log.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := logging.ProjectKey(ctx)

	events, err := s.deps.Store.ListAudit(ctx, project,
		queryInt64(r, "since_seq", 0), queryInt(r, "limit", 100))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if events == nil {
		events = []*store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// recordChange appends an audit event and publishes the live change.
// The write already committed, so failures here are logged, not
// surfaced.
func (s *Server) recordChange(ctx context.Context, project, key, eventType string, change schema.ChangeType, detail json.RawMessage) {
	s.appendAudit(ctx, &store.AuditEvent{
		ProjectKey: project,
		SecretKey:  key,
		EventType:  eventType,
		Detail:     detail,
	})
	s.publish(ctx, streaming.ChangeEvent{
		ProjectKey: project,
		SecretKey:  key,
		EventType:  change,
	})
}

func (s *Server) appendAudit(ctx context.Context, event *store.AuditEvent) {
	if err := s.deps.Store.AppendAudit(ctx, event); err != nil {
		s.deps.Logger.ErrorContext(ctx, "audit append failed", "error", err)
	}
}

func (s *Server) publish(ctx context.Context, event streaming.ChangeEvent) {
	if err := s.deps.Hub.Publish(ctx, event); err != nil {
		s.deps.Logger.ErrorContext(ctx, "change publish failed", "error", err)
	}
}

func sizeDetail(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"size":%d}`, n))
}

func countDetail(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"count":%d}`, n))
}
