// Package config handles configuration loading for the chatizia
// gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	llm:
//	  timeout: "45s"
//	events:
//	  reconcile_interval: "15s"
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/chatizia/gateway.db"
//
// Completion service (any OpenAI-compatible endpoint):
//
//	llm:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  responder_model: "gpt-4o-mini"
//	  classifier_model: "gpt-4o-mini"
//	  embeddings_model: "text-embedding-3-small"
//	  timeout: "60s"
//
// Knowledge-base retrieval (omit persist_path for in-memory):
//
//	retrieval:
//	  persist_path: "/var/lib/chatizia/vectors"
//
// Escalation policy:
//
//	escalation:
//	  window_size: 5
//	  negative_threshold: 3
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/chatizia/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
