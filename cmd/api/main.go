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

	"github.com/angelmondragon/loaderescrow-backend/api/routes"
	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/internal/loaders"
	"github.com/angelmondragon/loaderescrow-backend/internal/masterwallet"
	"github.com/angelmondragon/loaderescrow-backend/internal/withdrawals"
	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	"github.com/angelmondragon/loaderescrow-backend/pkg/migrate"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/redis"
	"github.com/angelmondragon/loaderescrow-backend/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

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

	depositsSvc, err := deposits.NewService(deposits.NewRepository(conn), dbClient, keys, cfg.Chain.Network)
	if err != nil {
		logg.Error(ctx, "failed to create deposits service", err)
		os.Exit(1)
	}

	wallet, err := masterwallet.NewController(masterwallet.Params{
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
		logg.Error(ctx, "failed to create master wallet controller", err)
		os.Exit(1)
	}
	// A failed restore leaves the treasury locked; an operator unlocks it again.
	if err := wallet.Restore(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "master wallet left locked after restart")
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

	withdrawalsSvc, err := withdrawals.NewService(withdrawals.ServiceParams{
		Repo:     withdrawals.NewRepository(conn),
		Tx:       dbClient,
		Controls: controlsSvc,
		Ledger:   ledgerSvc,
		Treasury: wallet,
		Outbox:   outboxSvc,
		Logger:   logg,
		Currency: cfg.Escrow.Currency,
	})
	if err != nil {
		logg.Error(ctx, "failed to create withdrawals service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"treasury": wallet.Address(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:           dbClient,
			Chain:        chainClient,
			Redis:        redisClient,
			Gatherer:     prometheus.DefaultGatherer,
			Registerer:   prometheus.DefaultRegisterer,
			Controls:     controlsSvc,
			Ledger:       ledgerSvc,
			Deposits:     depositsSvc,
			Loaders:      loadersSvc,
			Withdrawals:  withdrawalsSvc,
			MasterWallet: wallet,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(logCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(logCtx, "api server stopped")
}
