package rules

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/keyvault/pkg/schema"
)

func newPolicies(t *testing.T, rules ...string) *Policies {
	t.Helper()
	return NewPolicies(rules, newEvaluator(t))
}

func TestPolicies_NoRulesAllowEverything(t *testing.T) {
	p := newPolicies(t)
	err := p.Check(context.Background(), "proj-a", "any", json.RawMessage(`"x"`))
	assert.NoError(t, err)

	var nilPolicies *Policies
	assert.NoError(t, nilPolicies.Check(context.Background(), "proj-a", "any", nil))
}

func TestPolicies_AllowAndDeny(t *testing.T) {
	p := newPolicies(t, "size < 64")

	err := p.Check(context.Background(), "proj-a", "small", json.RawMessage(`"ok"`))
	assert.NoError(t, err)

	big := json.RawMessage(`"` + strings.Repeat("x", 100) + `"`)
	err = p.Check(context.Background(), "proj-a", "big", big)
	require.Error(t, err)
	vErr, ok := err.(*schema.VaultError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodePolicy, vErr.Code)
	assert.Contains(t, vErr.Message, `size < 64`)
	assert.Equal(t, "proj-a", vErr.Project)
	assert.Equal(t, "big", vErr.Key)
}

func TestPolicies_EveryRuleMustPass(t *testing.T) {
	p := newPolicies(t,
		"size < 4096",
		`cel: key.startsWith("db/")`,
		"jq: .value | type == \"object\"",
	)
	ctx := context.Background()

	assert.NoError(t, p.Check(ctx, "proj-a", "db/creds", json.RawMessage(`{"user":"app"}`)))

	// Second rule rejects a key outside db/.
	err := p.Check(ctx, "proj-a", "api/token", json.RawMessage(`{"user":"app"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db/")

	// Third rule rejects a non-object value.
	err = p.Check(ctx, "proj-a", "db/creds", json.RawMessage(`"bare string"`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePolicy, schema.CodeOf(err))
}

func TestPolicies_FailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("evaluation error denies", func(t *testing.T) {
		p := newPolicies(t, "value.port > 0")
		err := p.Check(ctx, "proj-a", "k", json.RawMessage(`null`))
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodePolicy, schema.CodeOf(err))
		assert.Contains(t, err.Error(), "failed to evaluate")
	})

	t.Run("compile error denies", func(t *testing.T) {
		p := newPolicies(t, "cel: size <")
		err := p.Check(ctx, "proj-a", "k", json.RawMessage(`1`))
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodePolicy, schema.CodeOf(err))
	})

	t.Run("non-boolean result denies", func(t *testing.T) {
		p := newPolicies(t, "size")
		err := p.Check(ctx, "proj-a", "k", json.RawMessage(`1`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not produce a boolean")
	})
}

func TestWriteScope(t *testing.T) {
	raw := json.RawMessage(`{"env":"prod","port":5432}`)
	scope := WriteScope("proj-a", "db/creds", raw)

	assert.Equal(t, "proj-a", scope["project"])
	assert.Equal(t, "db/creds", scope["key"])
	assert.Equal(t, len(raw), scope["size"])

	value, ok := scope["value"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prod", value["env"])

	// Undecodable bytes still scope with their size; value decays to nil.
	broken := WriteScope("proj-a", "k", json.RawMessage(`{oops`))
	assert.Nil(t, broken["value"])
	assert.Equal(t, 5, broken["size"])
}
