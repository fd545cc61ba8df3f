package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/guildwarden/warden/cachestore"
	"github.com/guildwarden/warden/commands"
	"github.com/guildwarden/warden/countstore"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/httpapi"
	"github.com/guildwarden/warden/modules"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/shard"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/tasks"
	"github.com/guildwarden/warden/templating"
	"github.com/guildwarden/warden/util"
	"github.com/guildwarden/warden/util/cliutil"
	"github.com/guildwarden/warden/util/svcutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting process", "err", err.Error())
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "warden",
		Usage:   "sharded guild moderation bot",
		Version: versioninfo.Short(),
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the bot daemon for the owned shards",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "database-url",
					Usage:   "database connection string",
					Value:   "sqlite://data/warden/warden.sqlite",
					EnvVars: []string{"WARDEN_DATABASE_URL", "DATABASE_URL"},
				},
				&cli.IntFlag{
					Name:    "max-db-connections",
					Usage:   "limit on size of database connection pool",
					Value:   40,
					EnvVars: []string{"WARDEN_MAX_DB_CONNECTIONS"},
				},
				&cli.StringFlag{
					Name:    "redis-url",
					Usage:   "redis server for hit counters and caches; in-process when unset",
					EnvVars: []string{"WARDEN_REDIS_URL"},
				},
				&cli.StringFlag{
					Name:     "discord-token",
					Usage:    "bot token",
					Required: true,
					EnvVars:  []string{"WARDEN_DISCORD_TOKEN"},
				},
				&cli.UintFlag{
					Name:    "shard-count",
					Usage:   "total shards across the fleet",
					Value:   1,
					EnvVars: []string{"WARDEN_SHARD_COUNT"},
				},
				&cli.StringFlag{
					Name:    "shards",
					Usage:   "shards owned by this process (eg: 0,1,4-7)",
					Value:   "0",
					EnvVars: []string{"WARDEN_SHARDS"},
				},
				&cli.Int64Flag{
					Name:    "node-id",
					Usage:   "unique per process, for generated ids (0-1023)",
					Value:   1,
					EnvVars: []string{"WARDEN_NODE_ID"},
				},
				&cli.StringSliceFlag{
					Name:    "root-users",
					Usage:   "user ids allowed to run root commands; multiple allowed",
					EnvVars: []string{"WARDEN_ROOT_USERS"},
				},
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "IP or address, and port, to listen on for the HTTP API",
					Value:   ":2480",
					EnvVars: []string{"WARDEN_BIND"},
				},
				&cli.StringFlag{
					Name:    "metrics-listen",
					Usage:   "IP or address, and port, to listen on for prometheus metrics",
					Value:   ":2481",
					EnvVars: []string{"WARDEN_METRICS_LISTEN"},
				},
				&cli.StringFlag{
					Name:    "api-secret",
					Usage:   "HS256 secret for API bearer tokens; API is unauthenticated when unset",
					EnvVars: []string{"WARDEN_API_SECRET"},
				},
				&cli.DurationFlag{
					Name:    "shutdown-grace",
					Usage:   "how long to wait for in-flight event handlers on shutdown",
					Value:   30 * time.Second,
					EnvVars: []string{"WARDEN_SHUTDOWN_GRACE"},
				},
				&cli.IntFlag{
					Name:    "dispatch-parallelism",
					Usage:   "max concurrently running module handlers per event",
					Value:   engine.DefaultMaxParallel,
					EnvVars: []string{"WARDEN_DISPATCH_PARALLELISM"},
				},
				&cli.Float64Flag{
					Name:    "platform-rate-limit",
					Usage:   "max platform REST calls per second",
					Value:   40,
					EnvVars: []string{"WARDEN_PLATFORM_RATE_LIMIT"},
				},
				&cli.BoolFlag{
					Name:    "enable-db-tracing",
					EnvVars: []string{"WARDEN_ENABLE_DB_TRACING"},
				},
				&cli.StringFlag{
					Name:    "env",
					Value:   "dev",
					EnvVars: []string{"ENVIRONMENT"},
					Usage:   "declared hosting environment (prod, qa, etc); used in traces",
				},
				&cli.StringFlag{
					Name:    "otel-exporter-otlp-endpoint",
					EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
				},
			},
		},
		cmdModules,
	}
	return app.Run(args)
}

func shardConfig(cctx *cli.Context) (shard.Config, error) {
	count := cctx.Uint("shard-count")
	if count > 0xFFFF {
		return shard.Config{}, &shard.ConfigurationError{Reason: fmt.Sprintf("shard count %d out of range", count)}
	}
	owned, err := shard.ParseSet(cctx.String("shards"))
	if err != nil {
		return shard.Config{}, err
	}
	cfg := shard.Config{Count: uint16(count), Owned: owned}
	return cfg, cfg.Validate()
}

func runServe(cctx *cli.Context) error {
	logger := svcutil.ConfigLogger(cctx, os.Stdout)

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	shards, err := shardConfig(cctx)
	if err != nil {
		return fmt.Errorf("invalid shard configuration: %w", err)
	}
	logger.Info("shard configuration", "count", shards.Count, "owned", shards.Owned.Sorted())

	shutdownTracing, err := setupOTEL(cctx, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	dburl := cctx.String("database-url")
	logger.Info("configuring database", "maxConn", cctx.Int("max-db-connections"))
	db, err := cliutil.SetupDatabase(dburl, cliutil.DatabaseOptions{
		MaxConnections: cctx.Int("max-db-connections"),
		Logger:         logger,
		Tracing:        cctx.Bool("enable-db-tracing"),
	})
	if err != nil {
		return err
	}
	st, err := store.New(db, cctx.Int64("node-id"))
	if err != nil {
		return err
	}
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	var hits countstore.HitStore = countstore.NewMemHitStore()
	var cache cachestore.CacheStore = cachestore.NewMemCacheStore(cachestore.DefaultPolicy())
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		rhits, err := countstore.NewRedisHitStore(redisURL, cctx.Int64("node-id"))
		if err != nil {
			return fmt.Errorf("redis hit store: %w", err)
		}
		rcache, err := cachestore.NewRedisCacheStore(redisURL, cachestore.DefaultPolicy())
		if err != nil {
			return fmt.Errorf("redis cache store: %w", err)
		}
		hits, cache = rhits, rcache
		logger.Info("using redis for hit counters and caches")
	}

	discord, err := platform.NewDiscordClient(logger, cctx.String("discord-token"), shards, cctx.Float64("platform-rate-limit"))
	if err != nil {
		return err
	}

	exec := templating.NewLuaExecutor(logger)
	// the root module registers the router's commands, and the router needs the built registry
	var router *commands.Router
	register := func(ctx context.Context) (int, error) {
		return registerCommands(ctx, discord, router)
	}

	eng := &engine.Engine{
		Logger:      logger,
		Registry:    engine.MustBuildRegistry(modules.Default(exec, register)...),
		Store:       st,
		Hits:        hits,
		HitLocks:    countstore.NewKeyLocker(),
		Cache:       cache,
		Platform:    discord,
		HTTPClient:  util.PublicOnlyHTTPClient(logger),
		Shards:      shards,
		RootUsers:   cctx.StringSlice("root-users"),
		MaxParallel: cctx.Int("dispatch-parallelism"),
	}
	router = commands.NewRouter(eng)
	attachGateway(discord, router)

	// start metrics endpoint
	go func() {
		if err := startMetrics(cctx.String("metrics-listen")); err != nil {
			logger.Error("failed to start metrics endpoint", "err", err)
			os.Exit(1)
		}
	}()

	api := httpapi.NewServer(eng, exec, httpapi.Config{Secret: []byte(cctx.String("api-secret"))})
	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Start(cctx.String("bind"))
	}()

	if err := discord.Open(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()
	runner := tasks.NewRunner(logger, tasks.Default(eng)...)
	runner.Start(ctx)

	logger.Info("startup complete")
	select {
	case sig := <-signals:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-apiErr:
		if err != nil {
			logger.Error("api server failed", "err", err)
		}
	}

	logger.Info("shutting down")
	cancel()
	runner.Wait()
	if err := discord.Close(); err != nil {
		logger.Error("error closing gateway", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cctx.Duration("shutdown-grace"))
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down api server", "err", err)
	}
	if err := eng.Drain(shutdownCtx); err != nil {
		logger.Warn("event handlers still running at shutdown", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func startMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
