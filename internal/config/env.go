package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "CONTACTSYNC_CONFIG"
	EnvStorePath = "CONTACTSYNC_STORE"
	EnvLogLevel  = "CONTACTSYNC_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CONTACTSYNC_CONFIG: override config file path
	StorePath  string // CONTACTSYNC_STORE: override contact database path
	LogLevel   string // CONTACTSYNC_LOG_LEVEL: override log level
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StorePath:  os.Getenv(EnvStorePath),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
