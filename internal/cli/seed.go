package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	"github.com/vladislavdragonenkov/dispatch/internal/seed"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/postgres"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/redisstore"
)

func newSeedCmd(rt runtime, g *globals) *cobra.Command {
	var (
		driver string
		days   int
		file   string
		from   string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create dispatch windows in the configured store",
		Long: "Creates windows either from a YAML file (--file) or generated for --days days " +
			"starting at --from. Windows that already exist are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var windows []domain.DispatchWindow
			if file != "" {
				loaded, err := seed.LoadFile(file)
				if err != nil {
					return err
				}
				windows = loaded
			} else {
				start := rt.now()
				if from != "" {
					parsed, err := time.Parse(domain.DateLayout, from)
					if err != nil {
						return fmt.Errorf("invalid --from %q: expected YYYY-MM-DD", from)
					}
					start = parsed
				}
				windows = seed.Generate(start, days)
			}

			ctx, cancel := withTimeout(cmd, g)
			defer cancel()

			catalog, closeFn, err := rt.openCatalog(ctx, driver, g)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			result, err := seed.Apply(ctx, catalog, windows, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out(cmd), "seeded windows: created=%d skipped=%d\n", result.Created, result.Skipped)
			return err
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "postgres", "target store: postgres | redis")
	cmd.Flags().IntVar(&days, "days", seed.DefaultDays, "number of days to generate")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with windows")
	cmd.Flags().StringVar(&from, "from", "", "first generated date (YYYY-MM-DD), defaults to today")
	return cmd
}

// openCatalog открывает каталог окон выбранного хранилища.
func openCatalog(ctx context.Context, driver string, g *globals) (domain.WindowCatalog, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		if strings.TrimSpace(g.dsn) == "" {
			return nil, nil, fmt.Errorf("DISPATCH_POSTGRES_DSN (or --dsn) is required")
		}
		store, err := postgres.Open(ctx, g.dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return postgres.NewWindowStore(store), store.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: g.redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", g.redisAddr, err)
		}
		return redisstore.NewWindowStore(rdb, redisstore.Options{}), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q (use postgres|redis)", driver)
	}
}
