// Package config handles configuration loading for persona-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the path ends in
// .toml) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from the --config flag
//  2. Path from PERSONA_GATEWAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/persona-gateway/gateway.yaml
//  4. ~/.config/persona-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PERSONA_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//	  environment: "production"     # development shows internal error detail
//	  shutdown_timeout: "5s"
//
//	database:
//	  path: "/var/lib/persona-gateway/gateway.db"
//
//	sessions:
//	  backend: "sqlite"             # sqlite or redis
//	  redis_addr: "localhost:6379"
//	  redis_ttl: "24h"
//
//	rate_limit:
//	  window: "1m"
//	  capacity: 30
//	  high_water: 1000
//	  retention_windows: 5
//
//	dedupe:
//	  ttl: "30s"
//	  sweep_interval: "1m"
//
//	generation:
//	  backend: "echo"               # echo or remote
//	  url: "http://localhost:9000/generate"
//	  timeout: "30s"
//	  echo_delay: "20ms"
//	  history_limit: 20
//
//	limits:
//	  max_message_length: 5000
//	  max_body_bytes: 10485760
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text or json
//
// Durations use time.ParseDuration syntax. Only database.path is required;
// everything else has a default.
package config
