// Package validation checks bulk-import payloads before they reach the
// store. Shape rules live in an embedded JSON Schema; anything the schema
// cannot express (duplicate keys within one payload) is checked
// structurally afterwards.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/keyvault/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// importSchemaJSON is the JSON Schema for import payloads. Embedded as a
// constant to avoid filesystem dependencies. The optional project_key
// property exists so an export dump can be re-imported unchanged; the
// server ignores it and always scopes the import to the request header.
const importSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://keyvault.dev/schemas/import.json",
  "type": "object",
  "required": ["secrets"],
  "properties": {
    "project_key": { "type": "string" },
    "secrets": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/secret" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "secret": {
      "type": "object",
      "required": ["key", "value"],
      "properties": {
        "key": {
          "type": "string",
          "minLength": 1,
          "maxLength": 512
        },
        "value": {}
      },
      "additionalProperties": false
    }
  }
}`

const importSchemaURL = "https://keyvault.dev/schemas/import.json"

// Violation codes reported through ValidationIssue.Code.
const (
	codeInvalidJSON  = "invalid_json"
	codeSchema       = "schema"
	codeDuplicateKey = "duplicate_key"
)

// ImportValidator validates bulk-import request bodies. The embedded
// schema is compiled once, on first use, and reused for every request.
// It is safe for concurrent use.
type ImportValidator struct {
	mu       sync.RWMutex
	compiled *jsonschema.Schema
}

// NewImportValidator creates an ImportValidator. Compilation of the
// embedded schema is deferred until the first Validate call.
func NewImportValidator() *ImportValidator {
	return &ImportValidator{}
}

// Validate checks a raw import request body. Invalid payloads are always
// reported through the result, never as an error; the error return is
// reserved for internal failures such as the embedded schema not
// compiling.
func (v *ImportValidator) Validate(raw []byte) (*schema.ValidationResult, error) {
	result := &schema.ValidationResult{}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		result.AddError("/", codeInvalidJSON, fmt.Sprintf("body is not valid JSON: %s", err))
		return result, nil
	}

	compiled, err := v.importSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "import schema failed to compile").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		collectIssues(result, err)
		return result, nil
	}

	// Structural check the schema cannot express: duplicate keys inside
	// one payload would silently overwrite each other during the batch
	// upsert.
	var payload schema.ImportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "decode import payload").WithCause(err)
	}
	seen := make(map[string]int, len(payload.Secrets))
	for i, entry := range payload.Secrets {
		if first, dup := seen[entry.Key]; dup {
			result.AddError(
				fmt.Sprintf("/secrets/%d/key", i),
				codeDuplicateKey,
				fmt.Sprintf("key %q already appears at index %d", entry.Key, first),
			)
			continue
		}
		seen[entry.Key] = i
	}

	return result, nil
}

// importSchema returns the compiled embedded schema, compiling it on the
// first call.
func (v *ImportValidator) importSchema() (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s := v.compiled; s != nil {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if v.compiled != nil {
		return v.compiled, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal import schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(importSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add import schema resource: %w", err)
	}

	compiled, err := c.Compile(importSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile import schema: %w", err)
	}

	v.compiled = compiled
	return compiled, nil
}

// collectIssues converts a jsonschema validation failure into issues on
// the result, one per leaf cause.
func collectIssues(result *schema.ValidationResult, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", codeSchema, err.Error())
		return
	}
	addLeaves(result, verr)
}

// addLeaves walks a ValidationError tree and records each leaf failure
// with its instance location.
func addLeaves(result *schema.ValidationResult, verr *jsonschema.ValidationError) {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		result.AddError(loc, codeSchema, verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		addLeaves(result, cause)
	}
}
