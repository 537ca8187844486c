package manifest

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchemaJSON is the structural contract for both manifest forms.
// Field-level rules that a schema cannot express (duplicate names, whitespace
// trimming, the exact supported schema_version) are enforced by build.
const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version"],
  "properties": {
    "schema_version": {"type": "integer"},
    "units": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "args"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "args": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          },
          "expected_exit_code": {"type": "integer", "minimum": 0},
          "stdout_contains": {"type": "string", "minLength": 1},
          "stderr_contains": {"type": "string", "minLength": 1}
        },
        "additionalProperties": false
      }
    },
    "surfaces": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "script", "artifact_roots"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "script": {"type": "string", "minLength": 1},
          "artifact_roots": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          }
        },
        "additionalProperties": false
      }
    }
  },
  "oneOf": [
    {"required": ["units"]},
    {"required": ["surfaces"]}
  ],
  "additionalProperties": false
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", strings.NewReader(manifestSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("manifest.schema.json")
	})
	return schema, schemaErr
}
