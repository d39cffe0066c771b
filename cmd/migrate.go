package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"appboot/bootstrap"
	"appboot/config"
	"appboot/migrate"
)

// migrationStatus is one row of `migrate status` output.
type migrationStatus struct {
	Version   string `json:"version" yaml:"version"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	AppliedAt string `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")

	var rollbackReason string
	rollbackCmd := &cobra.Command{
		Use:   "rollback <version>",
		Short: "Roll back one applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), args[0], rollbackReason)
		},
	}
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "operator request", "reason recorded with the rollback")

	migrateCmd.AddCommand(statusCmd)
	migrateCmd.AddCommand(rollbackCmd)
	return migrateCmd
}

// openRunner loads config and opens the application database with all
// migrations registered.
func openRunner(ctx context.Context) (*migrate.Runner, func(), *zap.SugaredLogger, error) {
	applyColorSetting()

	_, sugar, err := bootstrap.InitLogger(os.Getenv("APPBOOT_LOG_LEVEL"))
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := bootstrap.InitConfig(sugar)
	if err != nil {
		return nil, nil, nil, err
	}
	_, sugar, err = bootstrap.LoggerFromConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := config.ResolveDatabaseCredentials(cfg); err != nil {
		return nil, nil, nil, err
	}

	db, err := migrate.Open(ctx, cfg, sugar)
	if err != nil {
		addr := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
		errorColor.Fprintln(os.Stderr, bootstrap.ClassifyConnectionError(err, cfg.Database.Driver, addr))
		return nil, nil, nil, err
	}

	runner, err := migrate.NewAppRunner(db, cfg.Database.Driver, sugar)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	return runner, func() { _ = db.Close() }, sugar, nil
}

func runMigrate(ctx context.Context) error {
	runner, closeDB, _, err := openRunner(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	var s *spinner.Spinner
	if !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " applying migrations..."
		s.Start()
	}

	err = runner.Run()
	if s != nil {
		s.Stop()
	}
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		return err
	}

	if !quiet {
		successColor.Println("Migrations up to date")
	}
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	runner, closeDB, _, err := openRunner(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	applied, err := runner.Applied()
	if err != nil {
		return err
	}
	pending, err := runner.Pending()
	if err != nil {
		return err
	}

	var rows []migrationStatus
	for _, rec := range applied {
		rows = append(rows, migrationStatus{
			Version:   rec.Version,
			Name:      rec.Name,
			Status:    "applied",
			AppliedAt: rec.AppliedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, m := range pending {
		rows = append(rows, migrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Status:  "pending",
		})
	}

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(rows)
	default:
		for _, row := range rows {
			if row.Status == "applied" {
				successColor.Printf("%-10s %-40s applied %s\n", row.Version, row.Name, row.AppliedAt)
			} else {
				infoColor.Printf("%-10s %-40s pending\n", row.Version, row.Name)
			}
		}
		if len(rows) == 0 {
			infoColor.Println("No migrations registered")
		}
		return nil
	}
}

func runMigrateRollback(ctx context.Context, version, reason string) error {
	runner, closeDB, _, err := openRunner(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := runner.Rollback(version, reason); err != nil {
		errorColor.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		return err
	}

	if !quiet {
		successColor.Printf("Migration %s rolled back\n", version)
	}
	return nil
}
