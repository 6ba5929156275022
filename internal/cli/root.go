// Package cli defines the crudkit command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/entrypoint"
)

// NewRootCommand builds the command tree. Without a subcommand the HTTP
// server is started.
func NewRootCommand(version string) *cobra.Command {
	serve := newServeCommand(version)
	root := &cobra.Command{
		Use:           "crudkit",
		Short:         "REST resources over gorm models, with users, roles and action logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(
		serve,
		NewGenSecretCommand().Command(),
		NewGenRSAKeyCommand().Command(),
		NewEncryptCommand().Command(),
		NewSSHRunCommand().Command(),
		NewSSHListCommand().Command(),
		NewSSHGetCommand().Command(),
	)
	return root
}

func newServeCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server.

Configuration is read from environment variables and, when CONFIG_FILE is
set, from that file. See the README for the full list of keys.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return entrypoint.Run(config.NewConfig(), version)
		},
	}
}
