package config

import "path/filepath"

// Default provider endpoints. Tests and on-prem deployments override these
// per provider.
const (
	defaultOutlookEndpoint     = "https://graph.microsoft.com/v1.0"
	defaultGmailPeopleEndpoint = "https://people.googleapis.com/v1"
	defaultGmailMailEndpoint   = "https://gmail.googleapis.com/gmail/v1"
)

// DefaultConfig returns a Config populated with all default values. Loading
// a config file overlays onto this, so an empty file behaves identically to
// no file.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "contacts.db"),
		},
		Preferences: PreferencesConfig{
			Path: filepath.Join(DefaultConfigDir(), "preferences.json"),
		},
		Sync: SyncConfig{
			MaxConcurrent: 4,
			WatchDebounce: "2s",
		},
		Query: QueryConfig{
			Timeout: "30s",
		},
		Events: EventsConfig{
			ListenAddr: "127.0.0.1:8671",
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Providers: ProvidersConfig{
			Outlook: OutlookConfig{
				Endpoint:  defaultOutlookEndpoint,
				TokenFile: filepath.Join(dataDir, "outlook-token.json"),
			},
			Gmail: GmailConfig{
				PeopleEndpoint: defaultGmailPeopleEndpoint,
				MailEndpoint:   defaultGmailMailEndpoint,
				TokenFile:      filepath.Join(dataDir, "gmail-token.json"),
			},
			MacOS: MacOSConfig{
				SnapshotPath: filepath.Join(dataDir, "addressbook.json"),
			},
			Messages: MessagesConfig{
				DBPath: defaultMessagesDBPath(),
			},
		},
	}
}
