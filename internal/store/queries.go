package store

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/rendis/keyvault/pkg/schema"
)

//go:embed queries.yaml
var queriesYAML []byte

// requiredQueries lists every statement the store expects to find in
// the embedded catalog. Loading fails fast if one is missing.
var requiredQueries = []string{
	"get_secret",
	"upsert_secret",
	"delete_secret",
	"list_secrets",
	"list_secrets_containing",
}

type queryCatalog map[string]string

func loadQueries() (queryCatalog, error) {
	var catalog queryCatalog
	if err := yaml.Unmarshal(queriesYAML, &catalog); err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "parse query catalog").WithCause(err)
	}
	for _, name := range requiredQueries {
		if catalog[name] == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "query catalog missing %q", name)
		}
	}
	return catalog, nil
}

func (c queryCatalog) get(name string) (string, error) {
	q, ok := c[name]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeConfig, "unknown query %q", name)
	}
	return q, nil
}
