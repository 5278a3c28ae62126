// Package api wires the HTTP surface of the settlement engine.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/api/handler"
	"github.com/tabsplit/settlement-engine/internal/api/middleware"
	"github.com/tabsplit/settlement-engine/internal/config"
	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/keystore"
	"github.com/tabsplit/settlement-engine/internal/service"
)

type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *pgxpool.Pool
	redis    redis.Cmdable
	wallets  *service.SplitWalletService
	pipeline service.Submitter
	keys     keystore.Keystore
	cosign   *cosigner.Service
}

// NewRouter assembles the HTTP router over already constructed services.
// cosign may be nil when the engine delegates counter-signing to a remote
// service instead of hosting it.
func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redisClient redis.Cmdable, wallets *service.SplitWalletService, pipeline service.Submitter, keys keystore.Keystore, cosign *cosigner.Service) *Router {
	return &Router{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		wallets:  wallets,
		pipeline: pipeline,
		keys:     keys,
		cosign:   cosign,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	walletHandler := handler.NewWalletHandler(api.wallets)
	transferHandler := handler.NewTransferHandler(api.pipeline, api.keys)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)

		if api.cosign != nil {
			cosignHandler := handler.NewCoSignHandler(api.cosign, api.cfg.CoSignerSecret)
			r.Post("/v1/cosign", cosignHandler.CounterSign)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Split wallets
		r.Post("/v1/wallets", walletHandler.Create)
		r.Get("/v1/wallets/{id}", walletHandler.Get)
		r.Post("/v1/wallets/{id}/contributions", walletHandler.Contribute)
		r.Post("/v1/wallets/{id}/cancel", walletHandler.Cancel)
		r.Post("/v1/wallets/{id}/roulette", walletHandler.Roulette)

		// Direct transfers
		r.Post("/v1/transfers", transferHandler.Submit)
	})

	return r
}
