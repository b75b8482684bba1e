// Package openapi assembles the service's OpenAPI document: a static
// skeleton describing every route, with the model's own Input and
// Output JSON Schemas spliced into its Components at build time.
//
// Grounded on the real github.com/replicate/cog Go reimplementation's
// use of kin-openapi (see its internal/runner: it parses a schema
// document via openapi3.NewLoader().LoadFromData and then works
// against the resulting *openapi3.T directly) and on
// original_source/lib/src/server.rs's generate_schema/
// tweak_generated_schema, which build an OpenAPI document with
// PredictionRequest/PredictionResponse schemas that $ref a
// model-specific Input/Output pair. Rather than building the document
// field-by-field in Go, the fixed parts (paths, the envelope schemas)
// live in baseDocument below and only Input/Output are substituted in,
// matching how little of the teacher's own document generation
// (restserver/server.go's buildURLs) is dynamic per request.
package openapi

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// baseDocument is the fixed shape of the service's OpenAPI document:
// every route this runtime exposes, plus the PredictionRequest/
// PredictionResponse envelope schemas. "Input" and "Output" are
// placeholders replaced by Build with the model's actual schemas.
const baseDocument = `{
  "openapi": "3.0.2",
  "info": { "title": "Cog", "version": "0.1.0" },
  "paths": {
    "/": {
      "get": { "summary": "Root", "operationId": "root",
        "responses": { "200": { "description": "Successful Response" } } }
    },
    "/health-check": {
      "get": { "summary": "Health Check", "operationId": "health_check",
        "responses": { "200": { "description": "Successful Response" } } }
    },
    "/shutdown": {
      "post": { "summary": "Start Shutdown", "operationId": "shutdown",
        "responses": { "200": { "description": "Successful Response" } } }
    },
    "/predictions": {
      "post": {
        "summary": "Predict",
        "operationId": "predict",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": { "$ref": "#/components/schemas/PredictionRequest" }
            }
          }
        },
        "responses": {
          "200": {
            "description": "Successful Response",
            "content": {
              "application/json": {
                "schema": { "$ref": "#/components/schemas/PredictionResponse" }
              }
            }
          },
          "422": {
            "description": "Validation Error",
            "content": {
              "application/json": {
                "schema": { "$ref": "#/components/schemas/ValidationErrorSet" }
              }
            }
          }
        }
      }
    },
    "/predictions/{prediction_id}": {
      "put": {
        "summary": "Predict (named)",
        "operationId": "predict_idempotent",
        "parameters": [
          { "name": "prediction_id", "in": "path", "required": true,
            "schema": { "type": "string" } }
        ],
        "requestBody": {
          "content": {
            "application/json": {
              "schema": { "$ref": "#/components/schemas/PredictionRequest" }
            }
          }
        },
        "responses": {
          "200": {
            "description": "Successful Response",
            "content": {
              "application/json": {
                "schema": { "$ref": "#/components/schemas/PredictionResponse" }
              }
            }
          },
          "202": {
            "description": "Accepted",
            "content": {
              "application/json": {
                "schema": { "$ref": "#/components/schemas/PredictionResponse" }
              }
            }
          }
        }
      }
    },
    "/predictions/{prediction_id}/cancel": {
      "post": {
        "summary": "Cancel",
        "operationId": "cancel",
        "parameters": [
          { "name": "prediction_id", "in": "path", "required": true,
            "schema": { "type": "string" } }
        ],
        "responses": { "200": { "description": "Successful Response" } }
      }
    }
  },
  "components": {
    "schemas": {
      "Input": { "type": "object" },
      "Output": {},
      "PredictionRequest": {
        "type": "object",
        "properties": {
          "id": { "type": "string" },
          "input": { "$ref": "#/components/schemas/Input" },
          "webhook": { "type": "string" },
          "webhook_event_filters": {
            "type": "array",
            "items": { "type": "string", "enum": ["start", "output", "logs", "completed"] }
          },
          "output_file_prefix": { "type": "string" }
        }
      },
      "PredictionResponse": {
        "type": "object",
        "properties": {
          "id": { "type": "string" },
          "input": { "$ref": "#/components/schemas/Input" },
          "output": { "$ref": "#/components/schemas/Output" },
          "status": { "type": "string", "enum": ["starting", "processing", "succeeded", "failed", "canceled"] },
          "error": { "type": "string" },
          "logs": { "type": "string" },
          "created_at": { "type": "string", "format": "date-time" },
          "started_at": { "type": "string", "format": "date-time" },
          "completed_at": { "type": "string", "format": "date-time" },
          "metrics": { "type": "object" }
        }
      },
      "ValidationErrorSet": {
        "type": "object",
        "properties": {
          "detail": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "loc": { "type": "array", "items": { "type": "string" } },
                "msg": { "type": "string" }
              }
            }
          }
        }
      }
    }
  }
}`

// Builder assembles the OpenAPI document for one model, substituting
// its Input and Output schemas into the fixed envelope.
type Builder struct {
	Title   string
	Version string
}

// Build parses baseDocument and splices inputSchema/outputSchema (the
// model's own JSON Schemas, already compiled once by internal/validator
// for request-time use) into components.schemas.Input/Output, the same
// substitution original_source/lib/src/server.rs's generate_schema
// performs per-model.
func (b *Builder) Build(inputSchema, outputSchema json.RawMessage) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData([]byte(baseDocument))
	if err != nil {
		return nil, fmt.Errorf("openapi: parse base document: %w", err)
	}

	if b.Title != "" {
		doc.Info.Title = b.Title
	}
	if b.Version != "" {
		doc.Info.Version = b.Version
	}

	if len(inputSchema) > 0 {
		ref, err := schemaRefFromJSON(inputSchema)
		if err != nil {
			return nil, fmt.Errorf("openapi: input schema: %w", err)
		}
		doc.Components.Schemas["Input"] = ref
	}
	if len(outputSchema) > 0 {
		ref, err := schemaRefFromJSON(outputSchema)
		if err != nil {
			return nil, fmt.Errorf("openapi: output schema: %w", err)
		}
		doc.Components.Schemas["Output"] = ref
	}

	return doc, nil
}

func schemaRefFromJSON(raw json.RawMessage) (*openapi3.SchemaRef, error) {
	var schema openapi3.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return openapi3.NewSchemaRef("", &schema), nil
}
