// Package server exposes the vault over HTTP: secret CRUD, search,
// import/export, value extraction, the audit log, and a live event
// stream. Read routes accept either API key; mutating routes require
// the write key. Every route except /healthz is scoped to the project
// named by the x-project-key header.
package server

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/keyvault/internal/rules"
	"github.com/rendis/keyvault/internal/search"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
	"github.com/rendis/keyvault/internal/validation"
)

// Deps holds the dependencies for the vault API server.
type Deps struct {
	Store     store.Store
	Searcher  *search.Searcher
	Policies  *rules.Policies
	Evaluator *rules.Evaluator
	Validator *validation.ImportValidator
	Hub       streaming.ChangeHub
	Logger    *slog.Logger

	// ReadKey and WriteKey are the two API keys. The write key also
	// grants read access.
	ReadKey  string
	WriteKey string
}

// Server serves the vault HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server, filling in defaults for optional deps.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewImportValidator()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
//
// Secret keys are single path segments; keys containing "/" are
// addressed with %2F, which the mux keeps inside the segment.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Secret CRUD.
	mux.Handle("GET /secrets/{key}", s.read(s.handleGetSecret))
	mux.Handle("PUT /secrets/{key}", s.write(s.handlePutSecret))
	mux.Handle("DELETE /secrets/{key}", s.write(s.handleDeleteSecret))
	mux.Handle("POST /secrets", s.write(s.handlePostSecret))
	mux.Handle("GET /secrets", s.read(s.handleListSecrets))

	// Search and extraction.
	mux.Handle("POST /search", s.read(s.handleSearch))
	mux.Handle("GET /secrets/{key}/extract", s.read(s.handleExtract))

	// Bulk transfer.
	mux.Handle("POST /secrets/import", s.write(s.handleImport))
	mux.Handle("GET /secrets/export", s.read(s.handleExport))

	// Audit and live events.
	mux.Handle("GET /audit", s.read(s.handleAudit))
	mux.Handle("GET /events/stream", s.read(s.handleEventsStream))

	var h http.Handler = mux
	h = withCORS(h)
	h = s.withLogging(h)
	h = s.withRequestID(h)
	return h
}
