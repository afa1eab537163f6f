package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database/migrations"
	"ms-marketplace/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the marketplace database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		runnerCmd(log, "up", "Apply schema migrations", false, func(r *migrations.Runner, _ []string) error {
			return r.RunMigrations()
		}),
		runnerCmd(log, "seed", "Apply schema migrations and demo data", true, func(r *migrations.Runner, _ []string) error {
			return r.MigrateUp()
		}),
		runnerCmd(log, "down", "Roll back every migration", false, func(r *migrations.Runner, _ []string) error {
			return r.MigrateDown()
		}),
		toCmd(log),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error("MIGRATE", err.Error())
		log.Close()
		os.Exit(1)
	}
}

func toCmd(log *logger.Logger) *cobra.Command {
	cmd := runnerCmd(log, "to [version]", "Migrate up or down to a specific version", false, func(r *migrations.Runner, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || v == 0 {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return r.MigrateTo(uint(v))
	})
	cmd.Args = cobra.ExactArgs(1)
	return cmd
}

func runnerCmd(log *logger.Logger, use, short string, seed bool, run func(*migrations.Runner, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := openRunner(log, seed)
			if err != nil {
				return err
			}
			defer runner.Close()

			if err := run(runner, args); err != nil {
				return err
			}
			log.Info("MIGRATE", fmt.Sprintf("%s complete", cmd.Name()))
			return nil
		},
	}
}

func openRunner(log *logger.Logger, seed bool) (*migrations.Runner, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	opts := migrations.DefaultOptions()
	opts.SeedData = seed
	return migrations.NewRunner(bun.NewDB(sqldb, pgdialect.New()), opts, log), nil
}
