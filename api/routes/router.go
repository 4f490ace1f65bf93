package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/solcoupons-backend/api/controllers"
	"github.com/angelmondragon/solcoupons-backend/api/middleware"
	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/redis"
)

// NewRouter wires the HTTP surface. redisClient may be nil, which disables
// idempotent replay and rate limiting. Every entry in readiness is pinged by
// /health/ready.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	couponService coupons.Service,
	redisClient *redis.Client,
	readiness map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, readiness, logg))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	couponPolicy := middleware.NewRateLimitPolicy(
		"coupon",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.WalletLimit,
	).TrustingProxy(cfg.RateLimit.TrustProxy)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", controllers.Status(cfg))

		r.Route("/coupons", func(r chi.Router) {
			r.Use(middleware.OwnerScope(logg))

			// Mutations are throttled and replayable only when redis is wired.
			mutations := r.With()
			if redisClient != nil {
				mutations = r.With(
					middleware.RateLimit(couponPolicy, redisClient, logg),
					middleware.Idempotency(redisClient, logg),
				)
			}

			r.Get("/", controllers.ListCoupons(couponService, logg))
			mutations.Post("/", controllers.CreateCoupon(couponService, logg))
			r.Get("/{couponId}", controllers.CouponHistory(couponService, logg))
			r.Get("/{couponId}/withdrawals", controllers.CouponWithdrawals(couponService, logg))
			mutations.Post("/{couponId}/deposit", controllers.DepositCoupon(couponService, logg))
			mutations.Post("/{couponId}/withdraw", controllers.WithdrawCoupon(couponService, logg))
			mutations.Post("/{couponId}/pay", controllers.PayCoupon(couponService, logg))
		})
	})

	return r
}
