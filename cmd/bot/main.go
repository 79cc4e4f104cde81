package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/suspectuso/runes-oracle/internal/config"
	"github.com/suspectuso/runes-oracle/internal/ledger"
	"github.com/suspectuso/runes-oracle/internal/metrics"
	"github.com/suspectuso/runes-oracle/internal/notifier"
	"github.com/suspectuso/runes-oracle/internal/oracle"
	"github.com/suspectuso/runes-oracle/internal/payments"
	"github.com/suspectuso/runes-oracle/internal/runes"
	"github.com/suspectuso/runes-oracle/internal/scheduler"
	"github.com/suspectuso/runes-oracle/internal/storage"
	"github.com/suspectuso/runes-oracle/internal/telegram"
	"github.com/suspectuso/runes-oracle/internal/webhook"
	"github.com/suspectuso/runes-oracle/internal/yookassa"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.YooKassaShopID == "" || cfg.YooKassaSecretKey == "" {
		log.Warn("YOOKASSA_SHOP_ID or YOOKASSA_SECRET_KEY not set, payments will fail")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath, cfg.DefaultLimits, cfg.PublicIDPrefix)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	led := ledger.New(store, m, log)

	catalog, err := runes.Load()
	if err != nil {
		log.Error("load runes", "error", err)
		os.Exit(1)
	}

	// Initialize telegram bot
	bot, err := telegram.New(cfg, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	notify := notifier.New(bot.GetBot(), store, m, log, cfg.BroadcastRPS)

	yk := yookassa.NewClient(cfg.YooKassaBaseURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey, cfg.PaymentReturnURL)
	reconciler := payments.New(yk, led, notify, m, log, payments.Options{
		Interval:      cfg.PollInterval,
		Attempts:      cfg.PollAttempts,
		LimitPriceRUB: cfg.LimitPriceRUB,
		BotName:       cfg.BotUsername,
	})

	bot.Bind(telegram.Deps{
		Ledger:      led,
		Runes:       catalog,
		Oracle:      oracle.NewClient(cfg.YandexGPTURL, cfg.YandexAPIKey, cfg.YandexFolderID),
		Payments:    reconciler,
		Broadcaster: notify,
		Notifier:    notify,
		Stats:       store,
	})

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start ops server
	opsServer := webhook.NewServer(reconciler, reg, log)
	opsDone := make(chan struct{})
	go func() {
		defer close(opsDone)
		if err := opsServer.Start(ctx, cfg.OpsPort); err != nil {
			log.Error("ops server", "error", err)
		}
	}()

	// Start daily reset
	reset := scheduler.New(led, m, log, cfg.DefaultLimits, cfg.ResetHour, cfg.ResetMinute, cfg.Location())
	go reset.Run(ctx)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)

	pending := reconciler.Pending()
	if len(pending) > 0 {
		log.Warn("abandoning payment polls, they will be credited by provider notifications", "count", len(pending))
	}
	// Start returns after the notifications it accepted are reconciled
	<-opsDone
	reconciler.Shutdown()
}
