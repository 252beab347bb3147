package query

import "fmt"

// Node is one node of a parsed query expression. The kinds are Term,
// Phrase, FieldFilter, Not, And and Or. A nil Node is the empty query,
// which matches every record.
type Node interface {
	node()
	String() string
}

// Term is a bare search token. It matches as a case-insensitive
// substring of a searchable text, or as a prefix when the token ends
// with a trailing '*'.
type Term struct {
	Text string
}

// Phrase is a quoted search string, matched as an exact contiguous
// case-insensitive substring with internal whitespace preserved.
// Escape sequences are already resolved by the parser.
type Phrase struct {
	Text string
}

// FieldFilter restricts its inner Term or Phrase to the text resolved
// for a named field. The reserved names secret_key and secret_value
// target the key name and the value text directly; any other name is
// looked up inside the JSON value.
type FieldFilter struct {
	Field string
	Value Node
}

// Not negates its child.
type Not struct {
	Expr Node
}

// And matches when both children match. Left is evaluated first.
type And struct {
	Left, Right Node
}

// Or matches when either child matches. Left is evaluated first.
type Or struct {
	Left, Right Node
}

func (*Term) node()        {}
func (*Phrase) node()      {}
func (*FieldFilter) node() {}
func (*Not) node()         {}
func (*And) node()         {}
func (*Or) node()          {}

func (t *Term) String() string   { return t.Text }
func (p *Phrase) String() string { return fmt.Sprintf("%q", p.Text) }

func (f *FieldFilter) String() string {
	return fmt.Sprintf("%s:%s", f.Field, f.Value)
}

func (n *Not) String() string { return "-" + n.Expr.String() }

func (a *And) String() string {
	return fmt.Sprintf("(%s AND %s)", a.Left, a.Right)
}

func (o *Or) String() string {
	return fmt.Sprintf("(%s OR %s)", o.Left, o.Right)
}
