package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/cron"
	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/internal/loaders"
	"github.com/angelmondragon/loaderescrow-backend/internal/masterwallet"
	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db"
	"github.com/angelmondragon/loaderescrow-backend/pkg/instance"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	"github.com/angelmondragon/loaderescrow-backend/pkg/migrate"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/redis"
	"github.com/angelmondragon/loaderescrow-backend/pkg/security"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	chainClient, err := chain.Dial(ctx, cfg.Chain)
	if err != nil {
		logg.Error(ctx, "failed to dial chain rpc", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	keys, err := security.NewKeyCipher(cfg.MasterWallet.EncryptionKey)
	if err != nil {
		logg.Error(ctx, "failed to build key cipher", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	controlsSvc, err := controls.NewService(controls.NewRepository(conn), cfg.Scanner.DefaultRequiredConfirmations)
	if err != nil {
		logg.Error(ctx, "failed to create controls service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), dbClient, cfg.Escrow.Currency, ledger.WithFeeWallet(cfg.Escrow.FeeOwner()))
	if err != nil {
		logg.Error(ctx, "failed to create ledger service", err)
		os.Exit(1)
	}

	// Sweeps sign with the deposit key, so this controller stays locked.
	sweeper, err := masterwallet.NewController(masterwallet.Params{
		Config:  cfg.MasterWallet,
		Chain:   chainClient,
		Keys:    keys,
		Repo:    masterwallet.NewStateRepository(conn),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Logger:  logg,
		Metrics: metrics.NewTransferMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create sweeper", err)
		os.Exit(1)
	}

	scanner, err := deposits.NewScanner(deposits.ScannerParams{
		Repo:             deposits.NewRepository(conn),
		Tx:               dbClient,
		Chain:            chainClient,
		Controls:         controlsSvc,
		Ledger:           ledgerSvc,
		Sweeper:          sweeper,
		Keys:             keys,
		Outbox:           outboxSvc,
		Logger:           logg,
		Metrics:          metrics.NewScannerMetrics(prometheus.DefaultRegisterer),
		Network:          cfg.Chain.Network,
		LookbackBlocks:   cfg.Scanner.LookbackBlocks,
		RollbackBlocks:   cfg.Scanner.RollbackBlocks,
		SweepMaxAttempts: cfg.Scanner.SweepMaxAttempts,
		SweepStaleAfter:  cfg.Scanner.SweepStaleAfter,
	})
	if err != nil {
		logg.Error(ctx, "failed to create deposit scanner", err)
		os.Exit(1)
	}

	loadersSvc, err := loaders.NewService(loaders.ServiceParams{
		Repo:           loaders.NewRepository(conn),
		Tx:             dbClient,
		Ledger:         ledgerSvc,
		Outbox:         outboxSvc,
		Logger:         logg,
		PlatformFeeBps: cfg.Escrow.PlatformFeeBps,
		Currency:       cfg.Escrow.Currency,
	})
	if err != nil {
		logg.Error(ctx, "failed to create loaders service", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	scanJob, err := cron.NewDepositScanJob(cron.DepositScanJobParams{
		Logger:   logg,
		Scanner:  scanner,
		Interval: cfg.Scanner.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create deposit scan job", err)
		os.Exit(1)
	}
	registry.Register(scanJob)

	deadlineJob, err := cron.NewLiabilityDeadlineJob(cron.LiabilityDeadlineJobParams{
		Logger:  logg,
		Loaders: loadersSvc,
	})
	if err != nil {
		logg.Error(ctx, "failed to create liability deadline job", err)
		os.Exit(1)
	}
	registry.Register(deadlineJob)

	retentionJob, err := cron.NewEventRetentionJob(cron.EventRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Repository:     outboxRepo,
		Retention:      cfg.Outbox.RetentionDays,
		AlertRetention: cfg.Outbox.AlertRetentionDays,
	})
	if err != nil {
		logg.Error(ctx, "failed to create event retention job", err)
		os.Exit(1)
	}
	registry.Register(retentionJob)

	lock, err := cron.NewRedisLock(redisClient, cron.LockKey(cfg.App.Env), instance.GetID(), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Scanner.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	metricsServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
