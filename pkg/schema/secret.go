package schema

import "encoding/json"

// Secret is the stored record: a JSON value keyed by (project_key, secret_key).
// This is the shape returned by read and search endpoints.
type Secret struct {
	SecretKey   string          `json:"secret_key"`
	ProjectKey  string          `json:"project_key"`
	SecretValue json.RawMessage `json:"secret_value"`
}

// SecretInput is the write-side payload for creating or replacing a secret.
// The project is never part of the body; it always comes from the
// X-PROJECT-KEY header so a request body cannot cross project boundaries.
type SecretInput struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SearchInput is the body of a search request. An absent or empty query
// matches every secret in the project.
type SearchInput struct {
	Query string `json:"query,omitempty"`
}

// ImportPayload is the bulk-import request body.
type ImportPayload struct {
	Secrets []SecretInput `json:"secrets"`
}

// ImportResult reports how many entries a bulk import wrote.
type ImportResult struct {
	Imported int `json:"imported"`
}

// ExportPayload is the full project dump returned by the export endpoint.
// It round-trips through ImportPayload so an export can be re-imported as is.
type ExportPayload struct {
	ProjectKey string        `json:"project_key"`
	Secrets    []SecretInput `json:"secrets"`
}
