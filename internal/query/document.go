package query

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Document is one candidate record prepared for matching: the secret
// key plus its raw JSON value. Field resolution parses the value
// lazily and memoizes the derived text, so a multi-clause query pays
// the flattening cost at most once per record. A Document is not safe
// for concurrent use; the matchers applied to it are.
type Document struct {
	key string
	raw []byte

	foldedKey string

	flat     string
	flatDone bool

	fields     map[string]string // folded scalar text by original top-level key
	fieldsDone bool
}

// NewDocument prepares a record for matching.
func NewDocument(key string, value []byte) *Document {
	return &Document{key: key, raw: value, foldedKey: strings.ToLower(key)}
}

// keyText returns the folded key name.
func (d *Document) keyText() string { return d.foldedKey }

// searchTexts is the default searchable surface for unscoped terms and
// phrases: the key name and the flattened value text. A pattern matches
// the record when it matches either one.
func (d *Document) searchTexts() []string {
	return []string{d.keyText(), d.valueText()}
}

// valueText returns the folded flattened rendering of the JSON value:
// a depth-first walk in document order emitting string leaves as their
// content and number/boolean leaves as their literal text, joined by
// single spaces. Object keys and nulls do not contribute.
func (d *Document) valueText() string {
	if !d.flatDone {
		d.flat = strings.ToLower(flattenJSON(d.raw))
		d.flatDone = true
	}
	return d.flat
}

// fieldText resolves a named field filter against the value. The value
// must be a JSON object and the field must resolve to a scalar leaf one
// level deep; anything else is a miss, never an error. A key spelled
// exactly as queried wins; otherwise fold-equal keys are considered in
// sorted order so the result is deterministic.
func (d *Document) fieldText(name string) (string, bool) {
	d.ensureFields()
	if len(d.fields) == 0 {
		return "", false
	}
	if text, ok := d.fields[name]; ok {
		return text, true
	}
	var candidates []string
	for k := range d.fields {
		if strings.EqualFold(k, name) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return d.fields[candidates[0]], true
}

func (d *Document) ensureFields() {
	if d.fieldsDone {
		return
	}
	d.fieldsDone = true

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(d.raw, &obj); err != nil {
		return // value is not an object; every named field misses
	}
	d.fields = make(map[string]string, len(obj))
	for k, v := range obj {
		if text, ok := scalarText(v); ok {
			d.fields[k] = strings.ToLower(text)
		}
	}
}

// scalarText renders a JSON scalar as matchable text: string content
// as is, numbers and booleans as their literal text. Null and
// containers are excluded.
func scalarText(raw json.RawMessage) (string, bool) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return "", false
	}
	switch t[0] {
	case '"':
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[', 'n':
		return "", false
	default:
		return string(t), true
	}
}

type jsonFrame struct {
	object    bool
	expectKey bool
}

func flattenJSON(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var parts []string
	var stack []jsonFrame

	endValue := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{':
				stack = append(stack, jsonFrame{object: true, expectKey: true})
			case '[':
				stack = append(stack, jsonFrame{})
			default: // '}' or ']'
				stack = stack[:len(stack)-1]
				endValue()
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
				stack[n-1].expectKey = false // object key, not searchable text
				continue
			}
			parts = append(parts, v)
			endValue()
		case json.Number:
			parts = append(parts, v.String())
			endValue()
		case bool:
			parts = append(parts, strconv.FormatBool(v))
			endValue()
		default: // null
			endValue()
		}
	}
	return strings.Join(parts, " ")
}
