// Package cmd provides the command-line interface for the appboot
// deployment bootstrapper.
package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"appboot/bootstrap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

// Global flags
var (
	outputFormat string
	noColor      bool
	quiet        bool
)

// NewRootCmd creates the root command. Invoked with no arguments it runs
// the full bootstrap sequence, which is what a container entrypoint wants.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "appboot",
		Short: "Deployment bootstrapper: migrate, collect static assets, serve",
		Long: `appboot is the container entrypoint for the application. With no
subcommand it applies pending schema migrations, collects static assets into
the serving root, and replaces itself with the multi-worker serving process.

Each stage is also available as its own subcommand for operational use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newCollectStaticCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// newRunCmd is the explicit spelling of the default behavior.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full bootstrap sequence (migrate, collectstatic, serve)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(cmd.Context())
		},
	}
}

func runSequence(ctx context.Context) error {
	applyColorSetting()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func applyColorSetting() {
	if noColor {
		color.NoColor = true
	}
}
