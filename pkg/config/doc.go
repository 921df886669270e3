// Package config loads tally's configuration.
//
// Values come from three layers, each overriding the previous: built-in
// defaults, an optional YAML file, and TALLY_* environment variables. The
// result is validated with struct tags plus a few cross-field checks.
//
// Storage settings:
//
//	TALLY_DB_DRIVER="postgres"  # mysql, postgres, sqlite
//	TALLY_DB_DSN="postgres://tally@localhost/tally?sslmode=disable"
//	TALLY_DB_MAX_OPEN_CONNS="50"
//	TALLY_DB_TRACING="true"
//
// Lifecycle and retention:
//
//	TALLY_CASCADE_MODE="query"  # query, loaded
//	TALLY_RETENTION_DAYS="180"
//	TALLY_RETENTION_SCHEDULE="@every 24h"
//	TALLY_REDIS_URL="redis://localhost:6379"  # enables the single-runner lock
//
// Observability:
//
//	TALLY_LOG_LEVEL="info"
//	TALLY_PORT="9090"
//	TALLY_OTEL_ENABLED="true"
//	TALLY_OTEL_ENDPOINT="otel-collector:4317"
package config
