package config

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDocument is the JSON Schema every configuration document is
// validated against before being unmarshaled into Go types. It mirrors the
// tagged-union shapes in types.go and is the mechanism behind "unknown
// fields are rejected": every object sets additionalProperties to false.
const schemaDocument = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["destinations", "sources", "mappings"],
  "properties": {
    "destinations": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/destination" }
    },
    "sources": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/source" }
    },
    "retryagent": { "$ref": "#/$defs/retryagent" },
    "mappings": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": { "type": "string" }
      }
    }
  },
  "$defs": {
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "required": ["type", "user", "password"],
      "properties": {
        "type": { "enum": ["plain", "login"] },
        "user": { "type": "string" },
        "password": { "type": "string" }
      }
    },
    "source": {
      "type": "object",
      "oneOf": [
        {
          "additionalProperties": false,
          "required": ["type"],
          "properties": { "type": { "const": "test" } }
        },
        {
          "additionalProperties": false,
          "required": ["type", "server", "port", "interval", "keep", "auth"],
          "properties": {
            "type": { "const": "imap_poll" },
            "server": { "type": "string" },
            "port": { "type": "integer" },
            "interval": { "type": "integer", "minimum": 1 },
            "keep": { "type": "boolean" },
            "auth": { "$ref": "#/$defs/auth" }
          }
        },
        {
          "additionalProperties": false,
          "required": ["type", "server", "port", "path", "renewinterval", "keep", "auth"],
          "properties": {
            "type": { "const": "imap_idle" },
            "server": { "type": "string" },
            "port": { "type": "integer" },
            "path": { "type": "string" },
            "renewinterval": { "type": "integer", "minimum": 1 },
            "keep": { "type": "boolean" },
            "auth": { "$ref": "#/$defs/auth" }
          }
        }
      ]
    },
    "destination": {
      "type": "object",
      "oneOf": [
        {
          "additionalProperties": false,
          "required": ["type", "failNFirst"],
          "properties": {
            "type": { "const": "test" },
            "failNFirst": { "type": "integer", "minimum": 0 }
          }
        },
        {
          "additionalProperties": false,
          "required": ["type", "server", "port", "ssl", "recipient"],
          "properties": {
            "type": { "const": "smtp" },
            "server": { "type": "string" },
            "port": { "type": "integer" },
            "ssl": { "type": "boolean" },
            "auth": { "$ref": "#/$defs/auth" },
            "recipient": { "type": "string" }
          }
        },
        {
          "additionalProperties": false,
          "required": ["type", "executable"],
          "properties": {
            "type": { "const": "exec" },
            "executable": { "type": "string" },
            "arguments": { "type": "array", "items": { "type": "string" } },
            "environment": { "type": "object", "additionalProperties": { "type": "string" } }
          }
        }
      ]
    },
    "retryagent": {
      "type": "object",
      "oneOf": [
        {
          "additionalProperties": false,
          "required": ["type", "delay"],
          "properties": {
            "type": { "const": "memory" },
            "delay": { "type": "integer", "minimum": 0 }
          }
        },
        {
          "additionalProperties": false,
          "required": ["type", "delay", "path"],
          "properties": {
            "type": { "const": "filesystem" },
            "delay": { "type": "integer", "minimum": 0 },
            "path": { "type": "string" }
          }
        }
      ]
    }
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mailhubd-config.json", bytes.NewReader([]byte(schemaDocument))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("mailhubd-config.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
