package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "statebackend",
	Short: "HTTP state backend for Terraform and OpenTofu",
	Long: `statebackend stores Terraform/OpenTofu state behind the "http" backend
protocol (GET/POST/DELETE plus LOCK/UNLOCK), protected by a single shared
Basic credential.`,
	SilenceUsage: true,
	// Running without a subcommand serves.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addServeFlags(rootCmd)
}
