package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/migrations"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile string
	driver     string
	url        string
	sqlitePath string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:          "dbtool",
		Short:        "Schema, seed and diagnostics for the monopilot stores",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.configFile, "config", os.Getenv("CONFIG_FILE"), "config file (yaml)")
	root.PersistentFlags().StringVar(&f.driver, "driver", "", "store driver override: postgres|sqlite")
	root.PersistentFlags().StringVar(&f.url, "url", "", "postgres connection string override")
	root.PersistentFlags().StringVar(&f.sqlitePath, "sqlite-path", "", "sqlite file override")

	root.AddCommand(
		newMigrateCmd(f),
		newRLSSmokeCmd(f),
		newSeedCmd(f),
		newLineageCmd(f),
	)
	return root
}

// load resolves the effective config: file and env first, flags last.
func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if f.driver != "" {
		cfg.StoreDriver = config.StoreDriver(f.driver)
	}
	if f.url != "" {
		cfg.DatabaseURL = f.url
	}
	if f.sqlitePath != "" {
		cfg.SQLitePath = f.sqlitePath
	}
	return cfg, nil
}

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			applied, err := migrate(ctx, cfg)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[migrate] %s: up to date\n", cfg.StoreDriver)
				return nil
			}
			for _, v := range applied {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[migrate] %s: applied %05d\n", cfg.StoreDriver, v)
			}
			return nil
		},
	}
}

func migrate(ctx context.Context, cfg config.Config) ([]int64, error) {
	var (
		driverName string
		dsn        string
		dialect    migrations.Dialect
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		driverName, dsn, dialect = "pgx", cfg.DatabaseURL, migrations.Postgres
	case config.DriverSQLite:
		driverName, dsn, dialect = "sqlite", cfg.SQLitePath, migrations.SQLite
	default:
		return nil, fmt.Errorf("migrate: unsupported store driver %q", cfg.StoreDriver)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return migrations.Up(ctx, db, dialect)
}
