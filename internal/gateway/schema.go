package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[string]*jsonschema.Schema
}

var requestSchemas schemaRegistry

// errInvalidRequest marks bodies that fail decoding or schema validation.
var errInvalidRequest = errors.New("invalid request")

func initSchemas() error {
	requestSchemas.once.Do(func() {
		sources := map[string]string{
			"session.create": createSessionSchema,
			"room.upload":    uploadRoomSchema,
			"product.add":    addProductSchema,
			"product.update": updateProductSchema,
			"clarification":  clarificationSchema,
			"instruction":    instructionSchema,
			"edit.drag":      dragSchema,
			"edit.segment":   segmentSchema,
			"curation.draft": draftSchema,
		}
		requestSchemas.schemas = make(map[string]*jsonschema.Schema, len(sources))
		for name, source := range sources {
			compiled, err := jsonschema.CompileString("request_"+name, source)
			if err != nil {
				requestSchemas.initErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			requestSchemas.schemas[name] = compiled
		}
	})
	return requestSchemas.initErr
}

// decodeBody reads the request body, validates it against the named schema
// and decodes it into out. An empty body is validated as {} when
// allowEmpty is set.
func decodeBody(r *http.Request, name string, out any, allowEmpty bool) error {
	if err := initSchemas(); err != nil {
		return err
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if !allowEmpty {
			return fmt.Errorf("%w: body is required", errInvalidRequest)
		}
		raw = []byte("{}")
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if schema := requestSchemas.schemas[name]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return fmt.Errorf("%w: %v", errInvalidRequest, err)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

const createSessionSchema = `{
  "type": "object",
  "properties": {
    "restore": { "type": "boolean" }
  },
  "additionalProperties": false
}`

const uploadRoomSchema = `{
  "type": "object",
  "required": ["image"],
  "properties": {
    "image": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const addProductSchema = `{
  "type": "object",
  "required": ["product"],
  "properties": {
    "product": {
      "type": "object",
      "anyOf": [
        { "required": ["id"] },
        { "required": ["product_id"] },
        { "required": ["productId"] }
      ],
      "properties": {
        "quantity": { "type": ["integer", "string"] },
        "price": { "type": ["number", "string", "null"] },
        "attributes": { "type": "object" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": false
}`

const updateProductSchema = `{
  "type": "object",
  "oneOf": [
    { "required": ["quantity"] },
    { "required": ["op"] }
  ],
  "properties": {
    "quantity": { "type": "integer", "minimum": 0 },
    "op": { "enum": ["increment", "decrement"] }
  },
  "additionalProperties": false
}`

const clarificationSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "enum": ["replace_one", "replace_all", "add"] }
  },
  "additionalProperties": false
}`

const instructionSchema = `{
  "type": "object",
  "required": ["instruction"],
  "properties": {
    "instruction": { "type": "string", "minLength": 1, "maxLength": 2000 }
  },
  "additionalProperties": false
}`

const dragSchema = `{
  "type": "object",
  "required": ["layer_id", "x", "y"],
  "properties": {
    "layer_id": { "type": "string", "minLength": 1 },
    "x": { "type": "number" },
    "y": { "type": "number" }
  },
  "additionalProperties": false
}`

const segmentSchema = `{
  "type": "object",
  "oneOf": [
    { "required": ["x", "y"] },
    { "required": ["points"] }
  ],
  "properties": {
    "x": { "type": "number", "minimum": 0, "maximum": 1 },
    "y": { "type": "number", "minimum": 0, "maximum": 1 },
    "points": {
      "type": "array",
      "minItems": 1,
      "maxItems": 16,
      "items": {
        "type": "object",
        "required": ["x", "y"],
        "properties": {
          "x": { "type": "number", "minimum": 0, "maximum": 1 },
          "y": { "type": "number", "minimum": 0, "maximum": 1 }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

const draftSchema = `{
  "type": ["object", "array"]
}`
