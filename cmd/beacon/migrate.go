package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/go-beacon/infrastructure/store"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|version>",
	Short:     "Manage the Postgres schema",
	Long:      "Applies the embedded Postgres migrations. SQLite stores migrate themselves on open.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(_ *cobra.Command, args []string) error {
		if cfg.Store.Driver != "postgres" {
			return eris.Errorf("migrate: store driver %q has no managed migrations", cfg.Store.Driver)
		}

		if args[0] == "version" {
			v, dirty, err := store.MigrationVersion(cfg.Store.DSN)
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		}

		if err := store.Migrate(cfg.Store.DSN, store.MigrateDirection(args[0])); err != nil {
			return err
		}
		zap.L().Info("migrations applied", zap.String("direction", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
