package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/cogrunner/internal/runtime"
)

const textSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"count": {"type": "integer", "minimum": 0}
	},
	"required": ["text"]
}`

func TestValidatePasses(t *testing.T) {
	v, err := New([]byte(textSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`{"text": "hello", "count": 3}`))
	assert.NoError(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	v, err := New([]byte(textSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`{"count": -1}`))
	require.Error(t, err)

	set, ok := err.(interface{ HTTPStatus() int })
	require.True(t, ok, "validation error must report its own HTTP status")
	assert.Equal(t, 422, set.HTTPStatus())

	// Both the missing required "text" and the out-of-range "count"
	// should be reported, not just the first.
	assert.Len(t, err.(*runtime.ValidationErrorSet).Errors, 2)
}

func TestValidateErrorLocationRootedAtBodyInput(t *testing.T) {
	v, err := New([]byte(textSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`{"text": 5}`))
	require.Error(t, err)

	set, ok := err.(*runtime.ValidationErrorSet)
	require.True(t, ok)
	require.NotEmpty(t, set.Errors)
	assert.Equal(t, []string{"body", "input", "text"}, set.Errors[0].Loc)
}
