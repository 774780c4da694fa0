package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/dispatch/internal/storage/postgres"
)

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd, g, func(store *postgres.Store) error {
				ctx, cancel := withTimeout(cmd, g)
				defer cancel()
				if err := store.MigrateUp(ctx, upSteps); err != nil {
					return fmt.Errorf("migrate up failed: %w", err)
				}
				return printStatus(cmd, g, store, "migrate up ok")
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd, g, func(store *postgres.Store) error {
				ctx, cancel := withTimeout(cmd, g)
				defer cancel()
				if err := store.MigrateDown(ctx, downSteps); err != nil {
					return fmt.Errorf("migrate down failed: %w", err)
				}
				return printStatus(cmd, g, store, "migrate down ok")
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd, g, func(store *postgres.Store) error {
				return printStatus(cmd, g, store, "migration status")
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func withPostgres(cmd *cobra.Command, g *globals, fn func(*postgres.Store) error) error {
	if strings.TrimSpace(g.dsn) == "" {
		return errors.New("DISPATCH_POSTGRES_DSN (or --dsn) is required")
	}
	ctx, cancel := withTimeout(cmd, g)
	defer cancel()

	store, err := postgres.Open(ctx, g.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func printStatus(cmd *cobra.Command, g *globals, store *postgres.Store, prefix string) error {
	ctx, cancel := withTimeout(cmd, g)
	defer cancel()

	status, err := store.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out(cmd), "%s: version=%d applied=%d pending=%d\n", prefix, status.Version, status.Applied, status.Pending)
	return err
}
