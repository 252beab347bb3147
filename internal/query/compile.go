package query

import "strings"

// Reserved field names that target the record's key name and value
// text directly instead of looking inside the JSON document.
const (
	FieldSecretKey   = "secret_key"
	FieldSecretValue = "secret_value"
)

// Matcher is a compiled query: a pure predicate over one prepared
// record. A Matcher holds no mutable state and may be applied to any
// number of documents from any number of goroutines.
type Matcher func(*Document) bool

// CompileQuery parses and compiles input in one step. The only error it
// can return is a *SyntaxError from the parse.
func CompileQuery(input string) (Matcher, error) {
	n, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return Compile(n), nil
}

// Compile lowers an AST into a Matcher in a single bottom-up walk.
// Compilation cannot fail on a parser-produced tree; a nil Node
// compiles to a matcher that accepts every record.
func Compile(n Node) Matcher {
	switch v := n.(type) {
	case nil:
		return func(*Document) bool { return true }
	case *Term:
		pat := termPattern(v.Text)
		return func(d *Document) bool { return pat.matchAny(d.searchTexts()) }
	case *Phrase:
		pat := phrasePattern(v.Text)
		return func(d *Document) bool { return pat.matchAny(d.searchTexts()) }
	case *FieldFilter:
		return compileFieldFilter(v)
	case *Not:
		inner := Compile(v.Expr)
		return func(d *Document) bool { return !inner(d) }
	case *And:
		left, right := Compile(v.Left), Compile(v.Right)
		return func(d *Document) bool { return left(d) && right(d) }
	case *Or:
		left, right := Compile(v.Left), Compile(v.Right)
		return func(d *Document) bool { return left(d) || right(d) }
	default:
		return func(*Document) bool { return false }
	}
}

func compileFieldFilter(f *FieldFilter) Matcher {
	var pat pattern
	switch inner := f.Value.(type) {
	case *Term:
		pat = termPattern(inner.Text)
	case *Phrase:
		pat = phrasePattern(inner.Text)
	default:
		return func(*Document) bool { return false }
	}

	switch strings.ToLower(f.Field) {
	case FieldSecretKey:
		return func(d *Document) bool { return pat.match(d.keyText()) }
	case FieldSecretValue:
		return func(d *Document) bool { return pat.match(d.valueText()) }
	default:
		name := f.Field
		return func(d *Document) bool {
			text, ok := d.fieldText(name)
			return ok && pat.match(text)
		}
	}
}

// pattern is the compiled form of a Term or Phrase: pre-folded text
// plus the matching mode. Document accessors return folded text, so
// matching is a plain substring or prefix check.
type pattern struct {
	text   string
	prefix bool
}

// termPattern folds the token and resolves a single trailing '*' into
// prefix mode. A '*' anywhere else stays a literal character.
func termPattern(text string) pattern {
	if strings.HasSuffix(text, "*") {
		return pattern{text: strings.ToLower(strings.TrimSuffix(text, "*")), prefix: true}
	}
	return pattern{text: strings.ToLower(text)}
}

// phrasePattern folds the phrase. Phrases always match as substrings;
// '*' never acts as a wildcard inside quotes.
func phrasePattern(text string) pattern {
	return pattern{text: strings.ToLower(text)}
}

func (p pattern) match(folded string) bool {
	if p.prefix {
		return strings.HasPrefix(folded, p.text)
	}
	return strings.Contains(folded, p.text)
}

func (p pattern) matchAny(folded []string) bool {
	for _, t := range folded {
		if p.match(t) {
			return true
		}
	}
	return false
}
