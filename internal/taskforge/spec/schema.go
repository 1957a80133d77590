package spec

const schemaURL = "taskforge.schema.json"

// projectSchema is a structural check of the raw document. Semantic rules
// (references between tasks and validators, defaults) live in validate.
const projectSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "tier": {
      "type": "object",
      "properties": {
        "usd": {"type": "number", "minimum": 0},
        "tokens": {"type": "integer", "minimum": 0},
        "time_minutes": {"type": "number", "minimum": 0},
        "max_iterations": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "taskBudget": {
      "type": "object",
      "properties": {
        "optimal": {"$ref": "#/definitions/tier"},
        "warning": {"$ref": "#/definitions/tier"},
        "hard": {"$ref": "#/definitions/tier"}
      },
      "additionalProperties": false
    },
    "stringList": {"type": "array", "items": {"type": "string"}}
  },
  "properties": {
    "version": {"type": "string"},
    "project": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "repo_root": {"type": "string"}
      }
    },
    "defaults": {
      "type": "object",
      "properties": {
        "backend": {"type": "string"},
        "workspace_mode": {"enum": ["patch", "worktree"]},
        "validators": {"$ref": "#/definitions/stringList"}
      }
    },
    "policies": {
      "type": "object",
      "properties": {
        "scope_guard": {"enum": ["off", "warn", "block"]}
      }
    },
    "sprint_defaults": {
      "type": "object",
      "propertyNames": {"enum": ["XS", "S", "M", "L", "XL"]},
      "additionalProperties": {"$ref": "#/definitions/taskBudget"}
    },
    "budgets": {
      "type": "object",
      "properties": {
        "run": {
          "type": "object",
          "properties": {
            "money_usd": {"type": "number", "minimum": 0},
            "tokens": {"type": "integer", "minimum": 0},
            "wall_time_minutes": {"type": "number", "minimum": 0},
            "max_iterations_total": {"type": "integer", "minimum": 1}
          }
        },
        "limits": {
          "type": "object",
          "properties": {
            "command_timeout_seconds": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "backends": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "command": {"type": "string"},
          "args": {"$ref": "#/definitions/stringList"},
          "timeout_minutes": {"type": "number", "minimum": 0}
        }
      }
    },
    "setup": {
      "type": "object",
      "properties": {
        "commands": {"$ref": "#/definitions/stringList"},
        "timeout_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "validators": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "run"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "run": {"type": "string", "minLength": 1},
          "timeout_seconds": {"type": "integer", "minimum": 0},
          "parser": {"type": "string"}
        }
      }
    },
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "goal": {"type": "string"},
          "deps": {"$ref": "#/definitions/stringList"},
          "priority": {"type": "integer"},
          "validators": {"$ref": "#/definitions/stringList"},
          "files_contract": {
            "type": "object",
            "properties": {
              "allowed": {"$ref": "#/definitions/stringList"},
              "forbidden": {"$ref": "#/definitions/stringList"},
              "allow_new_files": {"type": "boolean"}
            }
          },
          "budget": {"$ref": "#/definitions/taskBudget"},
          "sprint": {
            "type": "object",
            "properties": {
              "size": {"enum": ["XS", "S", "M", "L", "XL"]},
              "intent": {"enum": ["fix", "feature", "refactor", "infra"]}
            }
          }
        }
      }
    },
    "artifacts": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "root_dir": {"type": "string"}
      }
    }
  }
}`
