package contract

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// PlanSchema is the JSON schema of the Actor's output document.
//
//go:embed schemas/plan.json
var PlanSchema string

// CritiqueSchema is the JSON schema of the Critic's output document.
//
//go:embed schemas/critique.json
var CritiqueSchema string

var (
	planSchema     = mustSchema(PlanSchema)
	critiqueSchema = mustSchema(CritiqueSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile embedded schema: %v", err))
	}
	return s
}

// schemaViolations validates a decoded document and returns the sorted list
// of violations, or nil when the document conforms.
func schemaViolations(schema *gojsonschema.Schema, doc any) []string {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return []string{fmt.Sprintf("validate schema: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return errs
}
