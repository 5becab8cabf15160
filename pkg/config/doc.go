// Package config loads tracklane configuration.
//
// Configuration is layered: Default values, then a CUE, YAML or JSON file,
// then a .env file, then TRACKLANE_* environment variables. CUE files are
// checked against an embedded #Config schema, which rejects unknown fields and
// reports errors with file positions:
//
//	database: path: "/var/lib/tracklane/tracklane.db"
//	engine: {
//		rule_cache_ttl:  "30s"
//		max_concurrency: 8
//	}
//	segmentation: dialect: "rego"
//
// Environment variables override file values:
//
//	TRACKLANE_DATABASE_PATH=:memory:
//	TRACKLANE_ENGINE_RULE_CACHE_TTL=5s
//	TRACKLANE_DEFINITIONS_PATHS=rules/,flows/
//	TRACKLANE_LOG_LEVEL=debug
package config
