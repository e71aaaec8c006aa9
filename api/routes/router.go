package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/loaderescrow-backend/api/controllers"
	"github.com/angelmondragon/loaderescrow-backend/api/middleware"
	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/internal/loaders"
	"github.com/angelmondragon/loaderescrow-backend/internal/withdrawals"
	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/loaderescrow-backend/pkg/redis"
)

// RedisStore is the Redis surface used by the HTTP middleware.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Dependencies are the services mounted by the router. Nil services answer
// with an internal error instead of panicking.
type Dependencies struct {
	DB           controllers.Pinger
	Chain        controllers.Pinger
	Redis        RedisStore
	Gatherer     prometheus.Gatherer
	Registerer   prometheus.Registerer
	Controls     controls.Service
	Ledger       ledger.Service
	Deposits     deposits.Service
	Loaders      loaders.Service
	Withdrawals  withdrawals.Service
	MasterWallet controllers.MasterWallet
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, metrics.NewHTTPMetrics(deps.Registerer)),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	if deps.Chain != nil {
		readiness["chain"] = deps.Chain
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	policy := middleware.RateLimitPolicy{Name: "api", Window: cfg.RateLimit.Window, Limit: cfg.RateLimit.Limit}
	protected := func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if deps.Redis != nil {
			r.Use(middleware.RateLimit(policy, deps.Redis, logg))
			r.Use(middleware.Idempotency(deps.Redis, logg))
		}
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			protected(r)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", controllers.WalletGet(deps.Ledger, logg))
				r.Get("/transactions", controllers.WalletTransactions(deps.Ledger, logg))
				r.Post("/deposit-address", controllers.WalletDepositAddress(deps.Deposits, logg))
				r.Get("/deposits", controllers.WalletDeposits(deps.Deposits, logg))
			})

			r.Route("/loaders", func(r chi.Router) {
				r.Route("/ads", func(r chi.Router) {
					r.Get("/", controllers.LoaderListAds(deps.Loaders, logg))
					r.Post("/", controllers.LoaderPostAd(deps.Loaders, logg))
					r.Delete("/{adId}", controllers.LoaderCancelAd(deps.Loaders, logg))
					r.Post("/{adId}/accept", controllers.LoaderAcceptAd(deps.Loaders, logg))
				})
				r.Get("/my-ads", controllers.LoaderMyAds(deps.Loaders, logg))
				r.Get("/my-orders", controllers.LoaderMyOrders(deps.Loaders, logg))
				r.Route("/orders/{orderId}", func(r chi.Router) {
					r.Get("/", controllers.LoaderGetOrder(deps.Loaders, logg))
					r.Post("/upfront", controllers.LoaderFundUpfront(deps.Loaders, logg))
					r.Post("/liability", controllers.LoaderSelectLiability(deps.Loaders, logg))
					r.Post("/confirm-liability", controllers.LoaderConfirmLiability(deps.Loaders, logg))
					r.Post("/funds-sent", controllers.LoaderMarkFundsSent(deps.Loaders, logg))
					r.Post("/asset-frozen", controllers.LoaderReportAssetFrozen(deps.Loaders, logg))
					r.Post("/complete", controllers.LoaderComplete(deps.Loaders, logg))
					r.Post("/cancel", controllers.LoaderCancelOrder(deps.Loaders, logg))
					r.Get("/messages", controllers.LoaderListMessages(deps.Loaders, logg))
					r.Post("/messages", controllers.LoaderPostMessage(deps.Loaders, logg))
				})
			})
		})

		r.Route("/admin", func(r chi.Router) {
			protected(r)
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))

			r.Get("/wallet-controls", controllers.AdminGetControls(deps.Controls, logg))
			r.Patch("/wallet-controls", controllers.AdminUpdateControls(deps.Controls, logg))
			r.Route("/master-wallet", func(r chi.Router) {
				r.Get("/", controllers.AdminMasterWalletStatus(deps.MasterWallet, logg))
				r.Post("/unlock", controllers.AdminMasterWalletUnlock(deps.MasterWallet, logg))
				r.Post("/lock", controllers.AdminMasterWalletLock(deps.MasterWallet, logg))
			})
			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", controllers.AdminListWithdrawals(deps.Withdrawals, logg))
				r.Post("/", controllers.AdminRequestWithdrawal(deps.Withdrawals, logg))
				r.Get("/{withdrawalId}", controllers.AdminGetWithdrawal(deps.Withdrawals, logg))
			})
			r.Post("/deposits/{depositId}/reset-sweep", controllers.AdminResetSweep(deps.Deposits, logg))
		})
	})

	return r
}
