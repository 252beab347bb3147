package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/keyvault/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_DeclaredScope(t *testing.T) {
	e := newCEL(t)
	scope := map[string]any{
		"project": "proj-a",
		"key":     "db/password",
		"value":   map[string]any{"env": "prod"},
		"size":    42,
	}

	t.Run("size bound", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "size < 4096", scope)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("string functions", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `project == "proj-a" && key.startsWith("db/")`, scope)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("dyn value access", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `value.env == "prod"`, scope)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestCEL_MissingScopeKeysDefault(t *testing.T) {
	e := newCEL(t)

	out, err := e.Evaluate(context.Background(), `size == 0 && project == ""`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_UndeclaredVariable(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "owner == 'me'", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_EmptyExpression(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_RuntimeError(t *testing.T) {
	e := newCEL(t)

	// Selecting a field from a null value is a runtime failure.
	_, err := e.Evaluate(context.Background(), "value.env == 'prod'", map[string]any{"value": nil})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeEvaluation, schema.CodeOf(err))
}

func TestCEL_ProgramCacheReused(t *testing.T) {
	e := newCEL(t)
	scope := map[string]any{"size": 7}

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(context.Background(), "size < 10", scope)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
