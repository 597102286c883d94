package ruleset

// schemaJSON validates the shape of a rule set document before parsing.
// Semantic checks (feature references, rule references, cycles) happen
// after parsing, against the loaded graph and tree.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "features", "require"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "features": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "udf"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "udf": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "required": {"type": "boolean"},
          "coerce_type": {"type": "boolean"},
          "execute_async": {"type": "boolean"},
          "args": {"type": "array", "items": {"$ref": "#/definitions/arg"}}
        }
      }
    },
    "require": {"$ref": "#/definitions/node"}
  },
  "definitions": {
    "arg": {
      "type": "object",
      "required": ["param"],
      "properties": {
        "param": {"type": "string", "minLength": 1},
        "feature": {"type": "string", "minLength": 1},
        "value": {},
        "list": {"type": "array", "items": {"$ref": "#/definitions/listItem"}}
      }
    },
    "listItem": {
      "type": "object",
      "properties": {
        "feature": {"type": "string", "minLength": 1},
        "value": {}
      }
    },
    "operand": {
      "type": "object",
      "properties": {
        "feature": {"type": "string", "minLength": 1},
        "value": {}
      }
    },
    "expr": {
      "type": "object",
      "required": ["op"],
      "properties": {
        "op": {
          "enum": ["eq", "ne", "lt", "le", "gt", "ge", "in", "allOf", "anyOf", "not", "value"]
        },
        "left": {"$ref": "#/definitions/operand"},
        "right": {"$ref": "#/definitions/operand"},
        "operand": {"$ref": "#/definitions/operand"},
        "exprs": {"type": "array", "items": {"$ref": "#/definitions/expr"}}
      }
    },
    "rule": {
      "type": "object",
      "required": ["name", "when_all"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "when_all": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/expr"}}
      }
    },
    "whenRules": {
      "type": "object",
      "required": ["rules_any", "then"],
      "properties": {
        "rules_any": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
        "then": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/effect"}}
      }
    },
    "effect": {
      "type": "object",
      "required": ["kind", "entity"],
      "properties": {
        "kind": {"type": "string", "minLength": 1},
        "entity": {"type": "string", "minLength": 1},
        "params": {"type": "object"}
      }
    },
    "node": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "require_if": {"$ref": "#/definitions/expr"},
        "children": {"type": "array", "items": {"$ref": "#/definitions/node"}},
        "rules": {"type": "array", "items": {"$ref": "#/definitions/rule"}},
        "when_rules": {"type": "array", "items": {"$ref": "#/definitions/whenRules"}}
      }
    }
  }
}`
