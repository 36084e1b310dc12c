package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camuig/riskbot/internal/ai"
	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/executor"
	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/scheduler"
	"github.com/camuig/riskbot/internal/storage"
	"github.com/camuig/riskbot/internal/strategy"
	"github.com/camuig/riskbot/internal/telegram"
	"github.com/camuig/riskbot/internal/venue"
	"github.com/camuig/riskbot/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting riskbot", "interval", cfg.TickInterval(), "db", cfg.Database.Path)

	// Init database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init services
	var advisor strategy.Advisor
	if ds := ai.NewDeepSeekClient(cfg, log); ds.Enabled() {
		advisor = ds
	} else {
		log.Info("deepseek api key not set, ai_advisor bots will fail to start ticking")
	}
	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.NewExecutor(repo, notifier, cfg, log)
	sched := scheduler.NewScheduler(
		repo,
		keystore.New(repo.KeystoreWallets()),
		venue.NewFactory(cfg, log),
		exec,
		advisor,
		notifier,
		cfg,
		log,
	)

	// Running bots from a previous process have no secret in memory.
	n, err := sched.ReconcileOnStartup(ctx)
	if err != nil {
		log.Error("reconcile bots failed", "error", err)
		os.Exit(1)
	}
	if n > 0 {
		notifier.NotifyStatus(fmt.Sprintf("%d bot(s) were running before restart and are now stopped. Start them again to resume.", n))
	}

	webServer := web.NewServer(repo, sched, cfg, log)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus("🤖 riskbot started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error("scheduler shutdown error", "error", err)
	}

	notifier.NotifyStatus("🛑 riskbot stopped")
	log.Info("riskbot stopped")
}
