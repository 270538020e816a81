package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clippay/internal/antifraud"
	"clippay/internal/broadcaster"
	"clippay/internal/config"
	"clippay/internal/db"
	"clippay/internal/events"
	"clippay/internal/ledger"
	"clippay/internal/logging"
	"clippay/internal/metrics"
	"clippay/internal/notify"
	"clippay/internal/queue"
	"clippay/internal/stats"
	"clippay/internal/submit"
	"clippay/internal/verifier"
	"clippay/internal/web"
	"clippay/internal/webhook"
	"clippay/internal/worker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Layering: defaults, then config file, then environment, then flags.
	cfg := config.Defaults()

	configPath, err := config.ResolveConfigPath(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to resolve config file: %v", err)
	}
	if configPath != "" {
		fileCfg, err := config.LoadFileConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config file %s: %v", configPath, err)
		}
		if err := config.ApplyFileConfig(cfg, fileCfg); err != nil {
			log.Fatalf("Failed to apply config file %s: %v", configPath, err)
		}
	}

	cfg.ApplyEnv()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.String("config", "", "Path to a TOML or YAML config file")
	requeueID := fs.Int64("requeue-id", 0, "Reset a failed verification job to pending and exit")
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.Init(cfg.WorkerID, cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	queueService := queue.NewService(pool)

	if *requeueID != 0 {
		if err := queueService.Requeue(ctx, *requeueID); err != nil {
			logger.Error("failed to requeue job", "job_id", *requeueID, "error", err)
			os.Exit(1)
		}
		logger.Info("job requeued", "job_id", *requeueID)
		return
	}

	logger.Info("initializing worker", "site_name", cfg.SiteName, "ops_addr", cfg.OpsAddr)

	broker := events.NewBroker(0)

	verifierService := verifier.New(cfg.FetchTimeout, logger)
	ledgerService := ledger.NewService(pool, logger)
	statsStore := stats.NewStore(pool)
	taskStore := worker.NewPgTaskStore(pool)
	notifier := notify.NewLogNotifier(logger)

	auditStore := webhook.NewPgAuditStore(pool)
	webhookNotifier := webhook.NewNotifier(cfg.WebhookTimeout, auditStore, logger)
	deliveryStore := webhook.NewDeliveryStore(pool)
	dispatcher := webhook.NewDispatcher(deliveryStore, webhookNotifier,
		cfg.DispatchInterval, cfg.WebhookMaxAttempts, broker, logger)

	statsBroadcaster, err := broadcaster.New(statsStore, deliveryStore,
		cfg.BroadcastCron, cfg.BroadcastWindow, cfg.SiteName, logger)
	if err != nil {
		logger.Error("invalid broadcast schedule", "cron", cfg.BroadcastCron, "error", err)
		os.Exit(1)
	}

	workerService := worker.New(cfg, queueService, verifierService, ledgerService,
		taskStore, statsStore, deliveryStore, notifier, broker, logger)

	gate := antifraud.New(antifraud.NewPgUserStore(pool), cfg.LivenessTimeout, logger)
	submitService := submit.NewService(gate, queueService, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	metrics.StartCollector(ctx, pool, 0, logger)

	opsServer := web.NewServer(pool, cfg.OpsAddr, cfg.OpsToken, broker, submitService, logger)
	go func() {
		if err := opsServer.Start(ctx); err != nil {
			logger.Error("ops server exited", "error", err)
		}
	}()

	go dispatcher.Run(ctx)

	if err := statsBroadcaster.Start(); err != nil {
		logger.Error("failed to start broadcaster", "error", err)
		os.Exit(1)
	}

	if err := workerService.Run(ctx); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	if err := statsBroadcaster.Stop(stopCtx); err != nil {
		logger.Warn("broadcaster did not stop cleanly", "error", err)
	}

	logger.Info("worker stopped cleanly")
}
