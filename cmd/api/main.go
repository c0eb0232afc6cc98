package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradearena/internal/auth"
	"tradearena/internal/config"
	"tradearena/internal/db"
	"tradearena/internal/health"
	"tradearena/internal/httpserver"
	"tradearena/internal/ledger"
	"tradearena/internal/ledger/memstore"
	"tradearena/internal/ledger/pgstore"
	"tradearena/internal/lock"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/orders"
	"tradearena/internal/positions"
	"tradearena/internal/risk"
	"tradearena/internal/triggers"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now()
	var deps []health.Dependency

	var store ledger.Store
	var lastKnown marketdata.LastKnownStore
	switch cfg.LedgerDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer pool.Close()
		pg := pgstore.NewStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		store = pg
		lastKnown = marketdata.NewPGLastKnown(pool)
		deps = append(deps, health.Dependency{Name: "postgres", Pinger: pool})
	case config.DriverMemory:
		mem := memstore.New()
		if cfg.FixturesPath != "" {
			f, err := memstore.LoadFixtures(cfg.FixturesPath)
			if err != nil {
				return err
			}
			if err := mem.Apply(ctx, f, time.Now()); err != nil {
				return fmt.Errorf("apply fixtures: %w", err)
			}
		}
		store = mem
		if cfg.PriceStorePath != "" {
			sq, err := marketdata.OpenSQLiteLastKnown(ctx, cfg.PriceStorePath)
			if err != nil {
				return fmt.Errorf("open price store: %w", err)
			}
			defer sq.Close()
			lastKnown = sq
		}
		logger.Warn("using in-memory ledger; state is lost on restart")
	}

	var locker lock.Locker = lock.NewNopLock()
	if cfg.RedisAddr != "" {
		rl := lock.NewRedisLock(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}), "tradearena:lock:")
		locker = rl
		deps = append(deps, health.Dependency{Name: "redis", Pinger: rl, Optional: true})
	}
	defer locker.Close()

	engine := cfg.Engine
	spreads, err := engine.SpreadTable()
	if err != nil {
		return err
	}
	routes := marketdata.DefaultRoutes()
	var feeds []marketdata.Feed
	if cfg.TwelveDataAPIKey != "" {
		feeds = append(feeds, marketdata.NewTwelveDataFeed(cfg.TwelveDataURL, cfg.TwelveDataAPIKey, engine.Price.UpstreamCreditsPerMinute))
	} else {
		logger.Warn("TWELVE_DATA_API_KEY not set; forex, metal and index quotes come from the last-known store only")
	}
	if cfg.BinanceEnabled {
		marketdata.BinanceRoutes(routes)
		feeds = append(feeds, marketdata.NewBinanceFeed())
	}
	if err := engine.ApplyRoutes(routes); err != nil {
		return err
	}

	bus := marketdata.NewBus()
	prices := marketdata.NewSource(marketdata.SourceConfig{
		Feeds:     feeds,
		Routes:    routes,
		Spreads:   spreads,
		Cache:     marketdata.NewCache(engine.Price.TTL, engine.Price.MinFetchInterval),
		LastKnown: lastKnown,
		Bus:       bus,
		Logger:    logger,
	})

	monitor := risk.NewMonitor(store, bus, logger)
	orderSvc := orders.NewService(store, prices, monitor, bus, orders.Policy{
		DefaultNetting:     engine.NettingDefault,
		OpenWithClientHint: engine.OpenWithClientHint,
	}, logger)
	closer := positions.NewCloser(store, prices, monitor, bus, positions.Policy{
		UseClientHint:     engine.CloseFallback.ClientHint,
		UseEntryPrice:     engine.CloseFallback.EntryPrice,
		AllowFrozenUnwind: engine.AllowFrozenUnwind,
	}, logger)
	sweeper := triggers.NewSweeper(store, prices, closer, bus, triggers.Policy{
		AllowFrozenUnwind: engine.AllowFrozenUnwind,
		Concurrency:       engine.Sweep.Concurrency,
	}, logger)
	marker := triggers.NewMarker(store, prices, monitor, bus, engine.Sweep.Concurrency, logger)

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthService:       authSvc,
		AuthHandler:       auth.NewHandler(authSvc),
		OrderHandler:      orders.NewHandler(orderSvc),
		PositionHandler:   positions.NewHandler(closer),
		MarketHandler:     marketdata.NewHandler(prices),
		TriggerHandler:    triggers.NewHandler(sweeper, marker),
		HealthHandler:     health.NewHandler(startedAt, cfg.HTTPAddr, cfg.LedgerDriver, deps...),
		WSHandler:         httpserver.NewWSHandler(bus, authSvc, cfg.WebSocketOrigin),
		MetricsHandler:    metrics.Handler(),
		Limiter:           httpserver.NewRateLimiter(10, 30),
		InternalTokenHash: cfg.InternalTokenHash,
		AllowedOrigin:     cfg.WebSocketOrigin,
	})

	publisher := marketdata.NewPublisher(prices, func(ctx context.Context) ([]string, error) {
		return ledger.HeldSymbols(ctx, store)
	}, engine.Price.TTL, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()
	for _, r := range []*triggers.Runner{
		triggers.NewRunner("sltp-sweep", cfg.SLTPSweepInterval, locker, func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			return err
		}, logger),
		triggers.NewRunner("mark-sweep", cfg.MarkSweepInterval, locker, func(ctx context.Context) error {
			_, err := marker.Run(ctx)
			return err
		}, logger),
	} {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr, "driver", cfg.LedgerDriver, "feeds", len(feeds))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	wg.Wait()
	return err
}
