package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"appboot/bootstrap"
	"appboot/static"
)

func newCollectStaticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collectstatic",
		Short: "Collect static assets into the serving root",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyColorSetting()

			_, sugar, err := bootstrap.InitLogger(os.Getenv("APPBOOT_LOG_LEVEL"))
			if err != nil {
				return err
			}
			cfg, err := bootstrap.InitConfig(sugar)
			if err != nil {
				return err
			}
			_, sugar, err = bootstrap.LoggerFromConfig(cfg)
			if err != nil {
				return err
			}
			if err := bootstrap.EnsureDirectories(cfg, sugar); err != nil {
				return err
			}

			collector := static.NewCollector(
				cfg.Static.SourceDirs, cfg.Static.Root, cfg.Static.Manifest, sugar)
			result, err := collector.Collect()
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Static collection failed: %v\n", err)
				return err
			}

			if !quiet {
				successColor.Printf("%d static files copied, %d unchanged, %d post-processed\n",
					result.Copied, result.Skipped, result.PostProcessed)
			}
			return nil
		},
	}
}
