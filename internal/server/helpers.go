package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rendis/keyvault/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already-encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

// writeError writes the JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeVaultError maps a domain error onto the wire envelope.
func writeVaultError(w http.ResponseWriter, err error) {
	var vErr *schema.VaultError
	if !errors.As(err, &vErr) {
		writeError(w, http.StatusInternalServerError, err.Error(), schema.ErrCodeInternal)
		return
	}
	writeError(w, statusForCode(vErr.Code), vErr.Message, vErr.Code)
}

// statusForCode translates error codes into HTTP status codes. Client
// mistakes are 400s; everything unrecognized is a 500.
func statusForCode(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case schema.ErrCodeValidation, schema.ErrCodePolicy, schema.ErrCodeQuerySyntax, schema.ErrCodeEvaluation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryInt64 extracts an int64 query param with a default value.
func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
