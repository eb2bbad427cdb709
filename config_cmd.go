package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/dealview/contactsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the fully resolved configuration as TOML: defaults overlaid with
the config file, environment variables, and CLI flags.`,
		RunE: func(*cobra.Command, []string) error {
			if err := toml.NewEncoder(os.Stdout).Encode(resolvedCfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path in use",
		Run: func(*cobra.Command, []string) {
			path := config.DefaultConfigPath()

			if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
				path = env.ConfigPath
			}

			if flagConfigPath != "" {
				path = flagConfigPath
			}

			fmt.Println(path)
		},
	})

	return cmd
}
