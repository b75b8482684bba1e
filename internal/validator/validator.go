// Package validator compiles a model's JSON Schema once and validates
// prediction input against it on every request, collecting every failing
// field rather than stopping at the first.
//
// There's no teacher equivalent of schema validation — diffeo-go-coordinate
// never validates work unit payloads against a schema, it just stores
// opaque []byte blobs (see coordinate/coordinate.go's WorkUnit.Data) — so
// this package is new. It borrows github.com/xeipuuv/gojsonschema, the
// library github.com/replicate/cog itself depends on for this exact job
// (see other_examples/manifests/replicate-cog/go.mod), and follows the
// teacher's small-errors-with-an-Error-method convention for reporting
// results back up through runtime.ValidationErrorSet.
package validator

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/diffeo/cogrunner/internal/runtime"
)

// Validator holds a compiled JSON Schema and validates raw input documents
// against it.
type Validator struct {
	schema *gojsonschema.Schema
}

// New compiles schemaDoc once. The returned Validator is safe for
// concurrent use by multiple goroutines (gojsonschema.Schema is
// read-only after compilation).
func New(schemaDoc []byte) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDoc))
	if err != nil {
		return nil, fmt.Errorf("validator: compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks inputDoc against the compiled schema. On failure it
// returns a *runtime.ValidationErrorSet with one entry per violated
// field, each location rooted at ["body", "input", ...] to match the
// original system's error document shape.
func (v *Validator) Validate(inputDoc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(inputDoc))
	if err != nil {
		return fmt.Errorf("validator: evaluate schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	set := &runtime.ValidationErrorSet{}
	for _, re := range result.Errors() {
		loc := append([]string{"body", "input"}, splitField(re.Field())...)
		set.Errors = append(set.Errors, runtime.ValidationError{
			Loc: loc,
			Msg: re.Description(),
		})
	}
	return set
}

// splitField turns gojsonschema's dotted field path (e.g. "a.b", or
// "(root)" for the document itself) into the path segments appended
// after ["body", "input"], dropping a leading synthetic "(root)" segment.
func splitField(field string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(field); i++ {
		if i == len(field) || field[i] == '.' {
			if i > start {
				segs = append(segs, field[start:i])
			}
			start = i + 1
		}
	}
	if len(segs) > 0 && segs[0] == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
		segs = segs[1:]
	}
	return segs
}
