package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dealview/contactsync/internal/config"
	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/offload"
	"github.com/dealview/contactsync/internal/prefs"
	"github.com/dealview/contactsync/internal/provider"
	"github.com/dealview/contactsync/internal/store"
	syncengine "github.com/dealview/contactsync/internal/sync"
)

// httpClientTimeout bounds every provider HTTP request; a hung connection
// must not block a sync job indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// storeOptions derives store open options from the resolved config.
func storeOptions(cfg *config.Config) (store.Options, error) {
	key, err := cfg.StoreKey()
	if err != nil {
		return store.Options{}, err
	}

	return store.Options{Path: cfg.Store.Path, Key: key}, nil
}

// openStore opens the writable contact database.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	opts, err := storeOptions(cfg)
	if err != nil {
		return nil, err
	}

	return store.Open(opts, logger)
}

// buildGate wires the preference gate over the configured document path.
func buildGate(cfg *config.Config, logger *slog.Logger) *prefs.Gate {
	return prefs.NewGate(&prefs.FileReader{Path: cfg.Preferences.Path}, logger)
}

// buildRegistry registers every adapter the config makes reachable. Cloud
// adapters need a token file; without one they are left unregistered and
// the sync report simply never mentions them.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	hc := defaultHTTPClient()

	if tokens := tokenSource(cfg.Providers.Outlook.TokenFile, logger); tokens != nil {
		adapters := []provider.Adapter{
			provider.NewOutlookContacts(cfg.Providers.Outlook.Endpoint, hc, tokens, logger),
			provider.NewOutlookMessages(cfg.Providers.Outlook.Endpoint, hc, tokens, logger),
		}
		for _, a := range adapters {
			if err := registry.Register(a); err != nil {
				return nil, err
			}
		}
	}

	if tokens := tokenSource(cfg.Providers.Gmail.TokenFile, logger); tokens != nil {
		adapters := []provider.Adapter{
			provider.NewGmailContacts(cfg.Providers.Gmail.PeopleEndpoint, hc, tokens, logger),
			provider.NewGmailMessages(cfg.Providers.Gmail.MailEndpoint, hc, tokens, logger),
		}
		for _, a := range adapters {
			if err := registry.Register(a); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Providers.MacOS.SnapshotPath != "" {
		if err := registry.Register(provider.NewMacOSContacts(cfg.Providers.MacOS.SnapshotPath)); err != nil {
			return nil, err
		}
	}

	if cfg.Providers.Messages.DBPath != "" {
		if err := registry.Register(provider.NewMessageStore(cfg.Providers.Messages.DBPath)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// tokenSource loads an OAuth2 token from a JSON file. A missing file means
// the provider was never connected; that is not an error.
func tokenSource(path string, logger *slog.Logger) oauth2.TokenSource {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("reading token file", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		logger.Warn("parsing token file", slog.String("path", path), slog.String("error", err.Error()))

		return nil
	}

	return oauth2.StaticTokenSource(&tok)
}

// newOrchestrator assembles the sync engine over an already-open store.
func newOrchestrator(cfg *config.Config, s *store.Store, events *syncengine.Broadcaster, logger *slog.Logger, onProgress func(string, float64)) (*syncengine.Orchestrator, error) {
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	return syncengine.New(syncengine.Config{
		Store:         s,
		Gate:          buildGate(cfg, logger),
		Registry:      registry,
		Events:        events,
		Logger:        logger,
		OnProgress:    onProgress,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
	}), nil
}

// newQueryRunner assembles the read-only query worker.
func newQueryRunner(cfg *config.Config, logger *slog.Logger) (*offload.Runner, error) {
	opts, err := storeOptions(cfg)
	if err != nil {
		return nil, err
	}

	return offload.NewRunner(opts, cfg.QueryTimeout(), logger), nil
}

// allSources is the full set a bare `sync` covers.
var allSources = []contact.Source{
	contact.SourceOutlook,
	contact.SourceEmail,
	contact.SourceContactsApp,
	contact.SourceMessages,
	contact.SourceSMS,
}

// parseSources turns a comma-separated --sources value into Source values.
func parseSources(value string) ([]contact.Source, error) {
	if value == "" {
		return allSources, nil
	}

	var out []contact.Source

	for _, part := range strings.Split(value, ",") {
		src, err := contact.ParseSource(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid source %q: %w", part, err)
		}

		out = append(out, src)
	}

	return out, nil
}
