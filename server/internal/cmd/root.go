// Package cmd implements the sitesmith command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when it exists and no path is given. Without a
// file the server is configured from the environment alone.
const defaultConfigPath = "sitesmith.json"

var version = "dev"

// NewRootCmd creates the root cobra command for sitesmith.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "sitesmith",
		Short: "Sitesmith server: AI website builder with credit billing",
		Long:  "Sitesmith serves the website builder API: accounts, projects, credit purchases and payment webhooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newPlansCmd())
	root.AddCommand(newCreditsCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default: ./sitesmith.json if present)")

	return root
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. ./sitesmith.json when it exists
// An empty result means environment-only configuration.
func resolveConfigPath(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
