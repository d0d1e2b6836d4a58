/*
Package config provides configuration management for vvmviz with multi-source
support.

This package implements a layered configuration system supporting YAML files
and environment variables on top of compiled-in defaults. It provides
validation and type safety for all vvmviz components.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (VVMVIZ_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Data Settings:
  - Local data root holding simulation directories
  - Optional S3 mirror (bucket, prefix, region, endpoint) with staging
    directory and retry policy
  - Dataset handle cache size

Cache Settings:
  - Frame cache capacity (max_entries)
  - Prefetch toggle

Server Settings:
  - Listen host and port
  - Read/write/shutdown timeouts
  - CORS toggle

Logging Settings:
  - Level (DEBUG, INFO, WARN, ERROR)
  - Optional log file

Metrics Settings:
  - Prometheus exposition toggle
  - Cache statistics poll interval

# Usage Examples

Loading configuration:

	// Create with defaults
	cfg := config.NewDefault()

	// Load from file
	if err := cfg.LoadFromFile("/etc/vvmviz/config.yaml"); err != nil {
		log.Fatal(err)
	}

	// Load environment variables
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	// Validate the result
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Example YAML:

	data:
	  root: /data/vvm
	  handle_cache: 10
	  s3:
	    enabled: true
	    bucket: vvm-archives
	    prefix: taiwanvvm
	    region: ap-northeast-1

	cache:
	  max_entries: 200
	  prefetch: true

	server:
	  host: 0.0.0.0
	  port: 8050

	logging:
	  level: INFO

	metrics:
	  enabled: true
	  interval: 15s

# Validation

Validate checks cross-field consistency: an enabled S3 mirror requires a
bucket and a staging directory, ports must be in range, the cache must have
positive capacity, and the log level must be one of the known names.
*/
package config
