package evaluator

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// evaluationSchema constrains the JSON a judge returns from a
// single-artifact evaluation. Anything outside it is a judge failure,
// not a parse problem to paper over.
const evaluationSchema = `{
  "type": "object",
  "required": ["score", "confidence"],
  "additionalProperties": false,
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["target_facet", "severity", "category", "description"],
        "additionalProperties": false,
        "properties": {
          "target_facet": {"type": "string", "minLength": 1},
          "location": {"type": "string"},
          "severity": {"type": "number", "minimum": 0, "maximum": 1},
          "category": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "suggested_action": {"type": "string", "enum": ["REWRITE", "ADJUST", "REMOVE", "ADD"]}
        }
      }
    }
  }
}`

// peerReviewSchema constrains the JSON a judge returns from a
// cross-critique pass: one review per peer verdict it was shown.
const peerReviewSchema = `{
  "type": "object",
  "required": ["reviews"],
  "additionalProperties": false,
  "properties": {
    "reviews": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["evaluator_id", "agreement"],
        "additionalProperties": false,
        "properties": {
          "evaluator_id": {"type": "string", "minLength": 1},
          "agreement": {"type": "number", "minimum": 0, "maximum": 1},
          "rebuttals": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// CompileVerdictSchema compiles the evaluation reply schema.
func CompileVerdictSchema() (*jsonschema.Schema, error) {
	return compileSchema("evaluation", evaluationSchema)
}

// CompilePeerReviewSchema compiles the cross-critique reply schema.
func CompilePeerReviewSchema() (*jsonschema.Schema, error) {
	return compileSchema("peer_review", peerReviewSchema)
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://accord.schemas.local/evaluator/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("evaluator schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("evaluator schema compile failed: %w", err)
	}
	return compiled, nil
}
