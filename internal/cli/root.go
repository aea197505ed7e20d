// Package cli provides the tillpointd command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tillpoint/pos-core/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
}

// loadConfig resolves the effective configuration for a command run.
func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

// NewRootCommand creates the root command for the tillpointd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tillpointd",
		Short: "TillPoint offline-first sync core",
		Long: `tillpointd captures point-of-sale transactions locally and delivers
them to the TillPoint backend whenever connectivity allows. Sales are
persisted before they are acknowledged, so a network outage or crash
never loses a transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
