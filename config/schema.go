package config

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/foani/CTA-Mission-sub000/errors"
)

// configSchema is the JSON Schema every config file must satisfy. Durations
// are strings like "3s" or "500ms"; the Duration type parses them after
// schema validation passes.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "auth_token": {"type": "string"},
    "should_reconnect": {"type": "boolean"},
    "reconnect_attempts": {"type": "integer", "minimum": 0},
    "reconnect_interval": {"$ref": "#/definitions/duration"},
    "heartbeat_interval": {"$ref": "#/definitions/duration"},
    "connection_timeout": {"$ref": "#/definitions/duration"},
    "channels": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["channel"],
        "properties": {
          "channel": {"type": "string", "minLength": 1},
          "params": {"type": "object"}
        }
      }
    },
    "polling": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "interval": {"$ref": "#/definitions/duration"},
        "rate_limit": {"type": "number", "minimum": 0},
        "burst": {"type": "integer", "minimum": 0},
        "endpoints": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["channel", "url"],
            "properties": {
              "channel": {"type": "string", "minLength": 1},
              "url": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "path": {"type": "string"}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    }
  },
  "definitions": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(ns|us|ms|s|m|h))+$"
    }
  }
}`

func validateSchema(data []byte) error {
	doc, err := yamlToJSON(data)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "validateSchema", "parse YAML")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "validateSchema", "run schema validation")
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, first.String()),
			"Config", "validateSchema", "schema validation")
	}
	return nil
}
