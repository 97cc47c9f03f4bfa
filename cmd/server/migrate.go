package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"retailpos/backend/internal/config"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for migrate")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		fmt.Println("Applying schema…")
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if !migrateSeed {
			return nil
		}

		fmt.Println("Seeding demo data…")
		return seedDemo(ctx, pg)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "upsert the demo branches, catalog and customers")
}

// seedDemo copies the in-memory demo data set into Postgres.
func seedDemo(ctx context.Context, pg *pgstore.Store) error {
	demo := memory.NewSeeded()
	branches, err := demo.ListBranches(ctx)
	if err != nil {
		return err
	}
	products, err := demo.ListProducts(ctx)
	if err != nil {
		return err
	}
	customers, err := demo.ListCustomers(ctx)
	if err != nil {
		return err
	}
	return pg.Seed(ctx, branches, products, customers)
}
