package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	projectKeyKey
)

// WithRequestID returns a context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithProjectKey returns a context with the project key set.
func WithProjectKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, projectKeyKey, key)
}

// RequestID extracts the request ID from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// ProjectKey extracts the project key from the context, or "" if absent.
func ProjectKey(ctx context.Context) string {
	v, _ := ctx.Value(projectKeyKey).(string)
	return v
}

// WithIDs sets both correlation values on the context at once.
func WithIDs(ctx context.Context, requestID, projectKey string) context.Context {
	ctx = WithRequestID(ctx, requestID)
	ctx = WithProjectKey(ctx, projectKey)
	return ctx
}

// LogWith returns a logger enriched with correlation values from the
// context. Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := RequestID(ctx); reqID != "" {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if project := ProjectKey(ctx); project != "" {
		logger = logger.With(slog.String("project_key", project))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting the
// request ID and project key from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and correlation appears automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RequestID(ctx); v != "" {
		r.AddAttrs(slog.String("request_id", v))
	}
	if v := ProjectKey(ctx); v != "" {
		r.AddAttrs(slog.String("project_key", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
