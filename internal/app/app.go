package app

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/api"
	"github.com/tabsplit/settlement-engine/internal/api/middleware"
	"github.com/tabsplit/settlement-engine/internal/config"
	"github.com/tabsplit/settlement-engine/internal/coordinator"
	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/db"
	"github.com/tabsplit/settlement-engine/internal/dedup"
	"github.com/tabsplit/settlement-engine/internal/entropy"
	"github.com/tabsplit/settlement-engine/internal/keystore"
	"github.com/tabsplit/settlement-engine/internal/ledger"
	"github.com/tabsplit/settlement-engine/internal/notify"
	"github.com/tabsplit/settlement-engine/internal/observability"
	"github.com/tabsplit/settlement-engine/internal/repository"
	"github.com/tabsplit/settlement-engine/internal/roulette"
	"github.com/tabsplit/settlement-engine/internal/service"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
	"github.com/tabsplit/settlement-engine/internal/worker"
)

// Run bootstraps the HTTP server and reconciliation worker, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	chain := ledger.NewHTTPClient(cfg.LedgerRPCURL, cfg.LedgerRPCTimeout)
	tokens := ledger.NewManager(chain, cfg.FreshnessMargin)
	guard := dedup.NewLedger(pool, redisClient, cfg.DedupTTL)

	fee, err := feePolicy(cfg)
	if err != nil {
		return err
	}

	cosignSvc, cosignClient, cosignPub, err := newCoSigner(cfg, fee)
	if err != nil {
		return fmt.Errorf("init co-signer: %w", err)
	}

	builder := txbuilder.NewBuilder(cosignPub, fee, cfg.ComputeUnitLimit, cfg.PriorityFeeMicros)
	pipeline := coordinator.New(builder, tokens, chain, cosignClient, guard, coordinator.Options{
		Network:        cfg.Network,
		PollInterval:   cfg.PollInterval,
		PollTimeout:    cfg.PollTimeout,
		NetworkRetries: cfg.NetworkRetries,
	})

	store := repository.NewStore(pool)
	keys := keystore.NewMemory()
	selector := roulette.NewSelector(entropy.DefaultSource())
	notifier := notify.NewRedisNotifier(redisClient, cfg.EventChannel)
	walletSvc := service.NewSplitWalletService(store, keys, pipeline, selector, guard, notifier)

	reconSvc := service.NewReconciliationService(guard, chain, cfg.ReconciliationStaleAfter, cfg.ReconciliationBatchSize)
	reconWorker := worker.NewReconciliationWorker(reconSvc).WithInterval(cfg.ReconciliationInterval)
	stopWorker := reconWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pool, redisClient, walletSvc, pipeline, keys, cosignSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("network", cfg.Network))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping reconciliation worker")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// newCoSigner returns the locally hosted service (nil when remote), the
// client the coordinator talks to and the co-signer public key the builder
// reserves a signature slot for.
func newCoSigner(cfg *config.Config, fee *txbuilder.FeePolicy) (*cosigner.Service, cosigner.Client, txbuilder.PublicKey, error) {
	if cfg.CoSignerEndpoint != "" {
		pub, err := txbuilder.ParseAddress(cfg.CoSignerPubkey)
		if err != nil {
			return nil, nil, txbuilder.PublicKey{}, fmt.Errorf("parse COSIGNER_PUBKEY: %w", err)
		}
		client := cosigner.NewHTTPClient(cfg.CoSignerEndpoint, cfg.CoSignerSecret, cfg.LedgerRPCTimeout)
		return nil, client, pub, nil
	}

	seed, err := hex.DecodeString(strings.TrimSpace(cfg.CoSignerSeed))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, nil, txbuilder.PublicKey{}, fmt.Errorf("COSIGNER_SEED must be %d hex-encoded bytes", ed25519.SeedSize)
	}
	signer, err := txbuilder.NewLocalSigner(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		return nil, nil, txbuilder.PublicKey{}, err
	}
	policy, err := cosigner.NewPolicy(cfg.Network, cfg.CoSignerMaxAmount, fee)
	if err != nil {
		return nil, nil, txbuilder.PublicKey{}, err
	}
	svc := cosigner.NewService(policy, signer)
	return svc, svc, svc.PublicKey(), nil
}

func feePolicy(cfg *config.Config) (*txbuilder.FeePolicy, error) {
	if cfg.FeeAccount == "" {
		return nil, nil
	}
	account, err := txbuilder.ParseAddress(cfg.FeeAccount)
	if err != nil {
		return nil, fmt.Errorf("parse FEE_ACCOUNT: %w", err)
	}
	return &txbuilder.FeePolicy{Account: account, BaseUnits: cfg.FeeBaseUnits}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
