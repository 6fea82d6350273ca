package config

// configSchema is the JSON schema every authrelay.yaml must satisfy.
// It constrains types and known enumerations; cross-field rules live
// in Config.normalize.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "gateway": {
      "type": "object",
      "properties": {
        "listen_addr": {"type": "string"},
        "backend_url": {"type": "string"},
        "forward_timeout_ms": {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    },
    "backend": {
      "type": "object",
      "properties": {
        "listen_addr": {"type": "string"},
        "gateway_url": {"type": "string"}
      },
      "additionalProperties": false
    },
    "token": {
      "type": "object",
      "properties": {
        "issuer": {"type": "string", "minLength": 1},
        "audience": {"type": "string", "minLength": 1},
        "lifetime_seconds": {"type": "integer", "minimum": 1},
        "renewal_enabled": {"type": "boolean"},
        "renewal_grace_seconds": {"type": "integer", "minimum": 0},
        "key_refresh_seconds": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "cache": {
      "type": "object",
      "properties": {
        "token_ttl_seconds": {"type": "integer", "minimum": 1},
        "cred_meta_ttl_seconds": {"type": "integer", "minimum": 1},
        "max_entries": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "vault": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["vault", "awssm", "memory"]},
        "connect_timeout_ms": {"type": "integer", "minimum": 0},
        "read_timeout_ms": {"type": "integer", "minimum": 0},
        "retry_count": {"type": "integer", "minimum": 0},
        "retry_backoff_multiplier": {"type": "number", "minimum": 1}
      },
      "additionalProperties": true
    },
    "rotation": {
      "type": "object",
      "properties": {
        "check_interval_ms": {"type": "integer", "minimum": 1},
        "default_transition_minutes": {"type": "integer", "minimum": 1},
        "accept_deprecated": {"type": "boolean"}
      },
      "additionalProperties": false
    },
    "degraded_mode": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"}
      },
      "additionalProperties": false
    },
    "events": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["memory", "none", "postgres", "postgresql", "mysql", "mariadb"]},
        "dsn": {"type": "string"}
      },
      "additionalProperties": false
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "listen_addr": {"type": "string"}
      },
      "additionalProperties": false
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "error"]},
        "json": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`
