// Package examplemodel is the model.Model this binary ships with: a
// direct translation of the upstream project's hello-world example
// (examples/hello-world/src/main.rs), which prefixes an input string
// with a greeting. A real deployment swaps this package's Model for
// its own — Go has no macro like cog_rust::start! to generate a binary
// around an arbitrary type, so the concrete model is wired by hand in
// cmd/cogrunner/main.go instead.
package examplemodel

import (
	"context"
	"encoding/json"
	"fmt"
)

const requestSchema = `{
	"type": "object",
	"properties": {
		"text": {
			"type": "string",
			"title": "Text",
			"description": "Text to prefix with 'hello '"
		}
	},
	"required": ["text"]
}`

// Model greets its input text with the prefix "hello", set once during
// Setup.
type Model struct {
	prefix string
}

type request struct {
	Text string `json:"text"`
}

// Setup implements model.Model.
func (m *Model) Setup(ctx context.Context) error {
	m.prefix = "hello"
	return nil
}

// Predict implements model.Model.
func (m *Model) Predict(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return json.Marshal(fmt.Sprintf("%s %s", m.prefix, req.Text))
}

// RequestSchema implements model.Model.
func (m *Model) RequestSchema() (json.RawMessage, error) {
	return json.RawMessage(requestSchema), nil
}
