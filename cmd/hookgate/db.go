package main

import (
	"fmt"

	"github.com/jingkaihe/hookgate/pkg/db"
	"github.com/jingkaihe/hookgate/pkg/db/migrations"
	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the hookgate storage database (migrations, status, etc.)`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func openMigrationRunner(cmd *cobra.Command) (*db.MigrationRunner, string, func() error, error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, "", nil, err
	}
	sqlDB, err := db.Open(cmd.Context(), dbPath)
	if err != nil {
		return nil, "", nil, err
	}
	return db.NewMigrationRunner(sqlDB), dbPath, sqlDB.Close, nil
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, dbPath, closeDB, err := openMigrationRunner(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		applied, err := runner.AppliedVersions(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}
		appliedMap := make(map[int64]bool, len(applied))
		for _, v := range applied {
			appliedMap[v] = true
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Database Migration Status")
		fmt.Fprintln(out, "=========================")
		fmt.Fprintf(out, "Database: %s\n\n", dbPath)

		all := migrations.All()
		appliedCount := 0
		for _, m := range all {
			status := "[ ]"
			if appliedMap[m.Version] {
				status = "[✓]"
				appliedCount++
			}
			fmt.Fprintf(out, "%s %d - %s\n", status, m.Version, m.Description)
		}
		fmt.Fprintf(out, "\nApplied: %d/%d migrations\n", appliedCount, len(all))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, _, closeDB, err := openMigrationRunner(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		applied, err := runner.AppliedVersions(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}
		if len(applied) == 0 {
			presenter.Warning("No migrations to rollback")
			return nil
		}

		if err := runner.Rollback(cmd.Context(), migrations.All()); err != nil {
			return errors.Wrap(err, "failed to rollback migration")
		}
		presenter.Success(fmt.Sprintf("Rolled back migration %d", applied[len(applied)-1]))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
