package config

import "time"

// Application constants
const (
	AppName    = "ETL Pulse"
	AppVersion = "1.0.0"

	// Environment variable prefix for envconfig
	EnvPrefix = "ETL"

	// ConfigFileEnv names a YAML file to load instead of the default locations
	ConfigFileEnv = "ETL_CONFIG_FILE"

	DefaultOutputDir  = "output"
	DefaultSQLitePath = "data/etlpulse.db"

	// Run history listing
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500

	WebSocketWriteWait = 10 * time.Second
)
