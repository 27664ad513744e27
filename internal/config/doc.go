// Package config handles configuration loading for palladium-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Omitted fields receive defaults and the
// result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from PALLADIUM_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/palladium/gateway.yaml
//  4. ~/.config/palladium/gateway.yaml
//
// A .env file in the working directory is loaded before the config file is
// read, so secrets can be referenced without exporting them.
//
// # Environment Variable Expansion
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//	sheets:
//	  credentials_file: "${GOOGLE_CREDENTIALS_PATH}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  shutdown_timeout: "10s"
//	llm:
//	  request_timeout: "2m"
//	sessions:
//	  idle_ttl: "24h"
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  allowed_origins: ["*"]
//	database:
//	  path: "palladium.db"
//	llm:
//	  provider: "openai"        # or "ollama"
//	  model: "gpt-4o"
//	  functions: true           # structured function calls
//	sheets:
//	  backend: "google"         # or "memory"
//	  sheet_name: "Vendor Inventory"
//	  requests_per_second: 1
//	sessions:
//	  max_sessions: 10000
//	uploads:
//	  dir: "uploads"
//	logging:
//	  level: "info"
//	  format: "text"            # or "json"
//	  file: ""                  # optional JSON log file
package config
