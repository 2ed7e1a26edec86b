// Command twitch-monitor is the main entrypoint for the announcement bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations and the legacy
//     schema backfill.
//   - Opens the Discord gateway, registers slash commands and starts the
//     reconciliation loop that keeps announcements in sync with Twitch.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/calyptra/twitch-monitor/bot"
	"github.com/calyptra/twitch-monitor/config"
	"github.com/calyptra/twitch-monitor/db"
	"github.com/calyptra/twitch-monitor/discord"
	"github.com/calyptra/twitch-monitor/reconcile"
	"github.com/calyptra/twitch-monitor/server"
	"github.com/calyptra/twitch-monitor/telemetry"
	"github.com/calyptra/twitch-monitor/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("twitch-monitor", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	// Pull watch entries out of the superseded prototype schema, once.
	if err := db.BackfillLegacy(context.Background(), database); err != nil {
		slog.Error("legacy backfill failed", slog.Any("err", err))
		os.Exit(1)
	}
	store := db.NewStore(database)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Redis-backed profile image cache
	var profiles *twitchapi.ProfileCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("err", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, profile cache disabled", slog.Any("err", err))
		} else {
			profiles = twitchapi.NewProfileCache(rdb, 6*time.Hour)
			slog.Info("profile cache enabled")
		}
		defer func() { _ = rdb.Close() }()
	}

	source := &twitchapi.Source{
		Helix: &twitchapi.HelixClient{
			ClientID:    cfg.TwitchClientID,
			TokenSource: twitchapi.AppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret),
		},
		Profiles: profiles,
	}

	// Discord: session, slash commands, guild lifecycle
	discordBot, err := bot.New(cfg.DiscordToken, store, cfg.CallTimeout)
	if err != nil {
		slog.Error("discord setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := discordBot.Start(); err != nil {
		slog.Error("discord connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := discordBot.Close(); err != nil {
			slog.Error("discord close failed", slog.Any("err", err))
		}
	}()

	reconciler := reconcile.New(store, source, discord.NewGateway(discordBot.Session()), cfg.CallTimeout,
		reconcile.WithOnTick(discordBot.UpdatePresence))
	go reconciler.Run(ctx, cfg.PollInterval)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, database, store, cfg.HTTPAddr, cfg.PollInterval); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
