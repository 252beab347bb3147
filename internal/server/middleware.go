package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/keyvault/internal/logging"
	"github.com/rendis/keyvault/pkg/schema"
)

// Request headers the API reads.
const (
	headerAPIKey  = "x-api-key"
	headerProject = "x-project-key"
)

// withRequestID assigns each request an ID, exposes it to handlers
// through the context, and echoes it back in X-Request-ID. A caller may
// supply its own ID to correlate across services.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), reqID)))
	})
}

// withLogging emits one access-log line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if project := r.Header.Get(headerProject); project != "" {
			attrs = append(attrs, slog.String("project_key", project))
		}
		s.deps.Logger.InfoContext(r.Context(), "request", attrs...)
	})
}

// withCORS allows any origin to call the API with the four verbs and
// any request headers. Preflight requests short-circuit to 204.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// read wraps a handler so it accepts either API key and requires the
// project header.
func (s *Server) read(h http.HandlerFunc) http.Handler {
	return s.authenticated(h, false)
}

// write wraps a handler so it accepts only the write key and requires
// the project header.
func (s *Server) write(h http.HandlerFunc) http.Handler {
	return s.authenticated(h, true)
}

// authenticated checks the API key, then the project header, in that
// order: a bad key is reported even when the project header is also
// missing. The project key lands in the request context.
func (s *Server) authenticated(next http.HandlerFunc, needsWrite bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerAPIKey)
		if needsWrite {
			if key != s.deps.WriteKey {
				writeError(w, http.StatusUnauthorized, "Write key invalid", schema.ErrCodeUnauthorized)
				return
			}
		} else {
			if key != s.deps.ReadKey && key != s.deps.WriteKey {
				writeError(w, http.StatusUnauthorized, "Read key invalid", schema.ErrCodeUnauthorized)
				return
			}
		}

		project := r.Header.Get(headerProject)
		if project == "" {
			writeError(w, http.StatusBadRequest, "Missing X-PROJECT-KEY", schema.ErrCodeValidation)
			return
		}

		next(w, r.WithContext(logging.WithProjectKey(r.Context(), project)))
	})
}

// statusRecorder captures the response status for the access log while
// forwarding Flush so SSE streaming keeps working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
