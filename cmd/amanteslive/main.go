package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/susu3304/amanteslive/internal/app"
	"github.com/susu3304/amanteslive/internal/catalog"
	"github.com/susu3304/amanteslive/internal/config"
	"github.com/susu3304/amanteslive/internal/db"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/moderation"
	"github.com/susu3304/amanteslive/internal/notify"
	"github.com/susu3304/amanteslive/internal/presence"
	"github.com/susu3304/amanteslive/internal/store/memory"
)

func main() {
	log := logging.Logger

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store app.Store
		opts  app.Options
	)
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		store = database
		opts.Listener = database
		opts.Health = database.Ping
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.New()
	}

	if cfg.RedisURL != "" {
		client, err := presence.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		opts.Presence = presence.NewRedisBackend(client)
	}

	if cfg.OpenAIAPIKey != "" {
		opts.Moderator = moderation.NewClient(cfg.OpenAIAPIKey)
	}

	if cfg.DiscordToken != "" && cfg.DiscordChannelID != "" {
		notifier, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID, cfg.WebUIBaseURL)
		if err != nil {
			log.Fatalf("Failed to create discord notifier: %v", err)
		}
		notifier.Start()
		defer notifier.Stop()
		opts.Announcer = notifier
	}

	application, err := app.New(cfg, store, cat, opts)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Errorf("Server error: %v", err)
	}
	log.Info("Shut down")
}
