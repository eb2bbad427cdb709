// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for contactsync. It supports a
// three-layer override chain (defaults -> config file -> environment ->
// CLI flags) and rejects unknown keys outright rather than silently
// ignoring typos.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Store       StoreConfig       `toml:"store"`
	Preferences PreferencesConfig `toml:"preferences"`
	Sync        SyncConfig        `toml:"sync"`
	Query       QueryConfig       `toml:"query"`
	Events      EventsConfig      `toml:"events"`
	Logging     LoggingConfig     `toml:"logging"`
	Providers   ProvidersConfig   `toml:"providers"`
}

// StoreConfig locates the contact database. KeyFile, when set, points at a
// file whose contents become the database encryption key; the key never
// appears in the config file itself.
type StoreConfig struct {
	Path    string `toml:"path"`
	KeyFile string `toml:"key_file"`
}

// PreferencesConfig locates the preference document owned by the settings
// subsystem. The engine only ever reads it.
type PreferencesConfig struct {
	Path string `toml:"path"`
}

// SyncConfig controls orchestrator behavior: concurrency and the watch
// debounce applied to message-store changes.
type SyncConfig struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	WatchDebounce string `toml:"watch_debounce"`
}

// QueryConfig controls the read-only query worker.
type QueryConfig struct {
	Timeout string `toml:"timeout"`
}

// EventsConfig controls the local WebSocket event endpoint.
type EventsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// ProvidersConfig groups per-source settings.
type ProvidersConfig struct {
	Outlook  OutlookConfig  `toml:"outlook"`
	Gmail    GmailConfig    `toml:"gmail"`
	MacOS    MacOSConfig    `toml:"macos"`
	Messages MessagesConfig `toml:"messages"`
}

// OutlookConfig configures the Microsoft Graph adapters. Endpoint is
// overridable for testing against a local stub.
type OutlookConfig struct {
	Endpoint  string `toml:"endpoint"`
	TokenFile string `toml:"token_file"`
}

// GmailConfig configures the Google adapters. PeopleEndpoint serves the
// contact list, MailEndpoint the message metadata.
type GmailConfig struct {
	PeopleEndpoint string `toml:"people_endpoint"`
	MailEndpoint   string `toml:"mail_endpoint"`
	TokenFile      string `toml:"token_file"`
}

// MacOSConfig locates the exported address book snapshot.
type MacOSConfig struct {
	SnapshotPath string `toml:"snapshot_path"`
}

// MessagesConfig locates the local message database.
type MessagesConfig struct {
	DBPath string `toml:"db_path"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty means "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag
	StorePath  string // --store flag
	LogLevel   string // derived from --verbose/--quiet
}
