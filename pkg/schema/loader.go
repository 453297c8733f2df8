package schema

import (
	"embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed v1/*.schema.json
var files embed.FS

const (
	ReleaseCriteria = "v1/release_criteria.schema.json"
	AnalyzeRequest  = "v1/analyze_request.schema.json"
)

// Validate checks doc against one of the embedded schemas and returns the
// violations. A nil slice means the document is valid.
func Validate(name string, doc any) ([]string, error) {
	raw, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(raw)
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
