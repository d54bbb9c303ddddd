package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/la2shop/internal/catalog"
	"github.com/udisondev/la2shop/internal/config"
	"github.com/udisondev/la2shop/internal/counter"
	"github.com/udisondev/la2shop/internal/db"
	"github.com/udisondev/la2shop/internal/scheduler"
	"github.com/udisondev/la2shop/internal/trade"
)

const ShopConfigPath = "config/shopserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ShopConfigPath
	if p := os.Getenv("SHOP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadShopServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading shop config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("la2shop server starting",
		"log_level", cfg.LogLevel,
		"timezone", cfg.TimeZone,
		"store", cfg.Store.Driver)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, err := counter.Open(ctx, backend)
	if err != nil {
		return fmt.Errorf("opening counter store: %w", err)
	}

	registry := catalog.NewRegistry(cfg.CatalogPath, loc)
	if err := registry.Reload(); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	// The trade service is the entry point for shop front-ends embedding
	// this process; the scheduler below shares its store.
	svc := trade.NewService(registry, store, nil)
	sched := scheduler.New(registry, store, nil)
	logCatalog(svc, registry.Snapshot())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting reset scheduler", "interval", cfg.Scheduler.PollInterval)
		if err := sched.Run(gctx, cfg.Scheduler.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reset scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		defer signal.Stop(hupCh)

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hupCh:
				if err := registry.Reload(); err != nil {
					slog.Error("catalog reload failed, keeping previous catalog", "path", cfg.CatalogPath, "error", err)
					continue
				}
				logCatalog(svc, registry.Snapshot())
			}
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// openBackend connects the configured durable store.
func openBackend(ctx context.Context, cfg config.ShopServer) (counter.Backend, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		repo, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		slog.Info("sqlite store opened", "path", cfg.Store.SQLitePath)
		return repo, func() {
			if err := repo.Close(); err != nil {
				slog.Error("closing sqlite store", "error", err)
			}
		}, nil

	default:
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		return db.NewCounterRepository(database.Pool()), database.Close, nil
	}
}

// logCatalog prints each shop with its schedule and current opening state.
func logCatalog(svc *trade.Service, c *catalog.Catalog) {
	for _, shop := range c.Shops() {
		open, err := svc.IsShopAvailable(shop.ID)
		if err != nil {
			continue
		}
		slog.Info("shop ready",
			"shop", shop.ID,
			"items", len(shop.Items),
			"open", open,
			"reset", shop.Reset.Describe())
	}
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
