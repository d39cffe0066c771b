package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"appboot/bootstrap"
	"appboot/config"
	"appboot/server"
)

// newServeCmd starts the serving process directly, skipping migrations and
// asset collection. The bootstrap sequence execs into this command; the
// prefork master also re-invokes it for each worker process, marked by the
// worker environment.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the request-serving process",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			opts := server.OptionsFromConfig(cfg)

			if server.IsWorkerProcess() {
				err := server.NewWorker(opts, sugar).Run()
				if errors.Is(err, server.ErrRecycled) {
					os.Exit(server.RecycleExitCode)
				}
				return err
			}

			if cfg.Mode == config.ModeDevelopment {
				return server.NewDevServer(opts, sugar).Run(cmd.Context())
			}
			return server.NewMaster(opts, sugar).Run(cmd.Context())
		},
	}
}
