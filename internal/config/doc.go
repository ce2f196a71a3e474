// Package config loads application configuration for the ETL service.
//
// Sources, highest precedence first:
//
//	1. Environment variables prefixed ETL_ (ETL_SERVER_PORT, ETL_PIPELINE_MISSING_STRATEGY)
//	2. A YAML file: $ETL_CONFIG_FILE, config.yaml or configs/config.yaml
//	3. Defaults from the struct tags, mirrored by Default()
//
// Load validates the result with go-playground/validator.
package config
