package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	n, err := Parse(input)
	require.NoError(t, err, "input: %s", input)
	return n
}

func TestParse_EmptyQuery(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\r\n"} {
		n, err := Parse(input)
		require.NoError(t, err)
		assert.Nil(t, n)
	}
}

func TestParse_SingleTerm(t *testing.T) {
	n := mustParse(t, "error")
	term, ok := n.(*Term)
	require.True(t, ok)
	assert.Equal(t, "error", term.Text)
}

func TestParse_Precedence(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"a OR b AND c", "(a OR (b AND c))"},
		{"a AND b OR c", "((a AND b) OR c)"},
		{"-a b", "(-a AND b)"},
		{"a b c", "((a AND b) AND c)"},
		{"a AND b c OR d", "(((a AND b) AND c) OR d)"},
		{"(a OR b) AND c", "((a OR b) AND c)"},
		{"a OR (b AND c)", "(a OR (b AND c))"},
		{"-(a OR b)", "-(a OR b)"},
		{"(error OR warning) -debug", "((error OR warning) AND -debug)"},
	}
	for _, tc := range cases {
		n := mustParse(t, tc.input)
		assert.Equal(t, tc.want, n.String(), "input: %s", tc.input)
	}
}

func TestParse_KeywordsAreCaseSensitive(t *testing.T) {
	// Lowercase "and"/"or" are plain terms joined by implicit AND.
	n := mustParse(t, "error and warning")
	assert.Equal(t, "((error AND and) AND warning)", n.String())

	n = mustParse(t, "a or b")
	assert.Equal(t, "((a AND or) AND b)", n.String())
}

func TestParse_FieldFilter(t *testing.T) {
	n := mustParse(t, "status:open")
	ff, ok := n.(*FieldFilter)
	require.True(t, ok)
	assert.Equal(t, "status", ff.Field)
	term, ok := ff.Value.(*Term)
	require.True(t, ok)
	assert.Equal(t, "open", term.Text)
}

func TestParse_FieldFilterQuotedValue(t *testing.T) {
	n := mustParse(t, `env:"prod east"`)
	ff, ok := n.(*FieldFilter)
	require.True(t, ok)
	ph, ok := ff.Value.(*Phrase)
	require.True(t, ok)
	assert.Equal(t, "prod east", ph.Text)
}

func TestParse_FieldFilterQuotedKey(t *testing.T) {
	n := mustParse(t, `"content type":json`)
	ff, ok := n.(*FieldFilter)
	require.True(t, ok)
	assert.Equal(t, "content type", ff.Field)
}

func TestParse_PhraseEscapes(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{`"server error"`, "server error"},
		{`"a \"quoted\" word"`, `a "quoted" word`},
		{`"back\\slash"`, `back\slash`},
		// A backslash escapes the next character literally, whatever it is.
		{`"\n"`, "n"},
	}
	for _, tc := range cases {
		n := mustParse(t, tc.input)
		ph, ok := n.(*Phrase)
		require.True(t, ok, "input: %s", tc.input)
		assert.Equal(t, tc.want, ph.Text, "input: %s", tc.input)
	}
}

func TestParse_WildcardStaysInToken(t *testing.T) {
	n := mustParse(t, "err*")
	assert.Equal(t, "err*", n.(*Term).Text)

	n = mustParse(t, "status:open*")
	ff := n.(*FieldFilter)
	assert.Equal(t, "open*", ff.Value.(*Term).Text)
}

func TestParse_IdentifierCharset(t *testing.T) {
	n := mustParse(t, "db.host_name-v2")
	assert.Equal(t, "db.host_name-v2", n.(*Term).Text)
}

func TestParse_SyntaxErrors(t *testing.T) {
	cases := []struct {
		input  string
		offset int
	}{
		{`status:`, 7},
		{`(error`, 6},
		{`"unterminated`, 0},
		{`a AND`, 5},
		{`AND b`, 0},
		{`a:b OR AND c:d`, 7},
		{`)`, 0},
		{`a )`, 2},
		{`status: open`, 7},
		{`status :open`, 7},
		{`:b`, 0},
		{`-`, 1},
	}
	for _, tc := range cases {
		n, err := Parse(tc.input)
		require.Error(t, err, "input: %s", tc.input)
		assert.Nil(t, n, "no partial tree on error, input: %s", tc.input)

		var syn *SyntaxError
		require.True(t, errors.As(err, &syn), "input: %s", tc.input)
		assert.Equal(t, tc.offset, syn.Offset, "input: %s", tc.input)
	}
}

func TestSyntaxError_Message(t *testing.T) {
	_, err := Parse(`"unterminated`)
	require.Error(t, err)
	assert.Equal(t, "syntax error at offset 0: unterminated quoted string", err.Error())
}
