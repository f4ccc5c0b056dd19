package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"mortgage-settlement-go/internal/accrual"
	"mortgage-settlement-go/internal/api"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/database"
	"mortgage-settlement-go/internal/formance"
	"mortgage-settlement-go/internal/httpclient"
	"mortgage-settlement-go/internal/lifecycle"
	"mortgage-settlement-go/internal/lock"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/prime"
	"mortgage-settlement-go/internal/providers"
	"mortgage-settlement-go/internal/settlement"
	"mortgage-settlement-go/internal/tokens"
	"mortgage-settlement-go/internal/verification"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the fully wired engine.
type Services struct {
	Ledger       *database.Service
	Tokens       *tokens.Registry
	Tracker      *settlement.Tracker
	Orchestrator *lifecycle.Orchestrator
	Loans        *api.LoanService
	Mirror       *formance.Service

	redis *redis.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	registry, err := tokens.Load(cfg.TokensFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Loaded token registry", zap.Strings("pairs", registry.Pairs()))

	ledger, redisClient, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{Ledger: ledger, Tokens: registry, redis: redisClient}

	if err := s.wire(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) wire(ctx context.Context, cfg *models.Config) error {
	httpClient, err := httpclient.New(cfg.Verification.CallTimeout)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}

	registryClient, err := providers.NewRegistryClient(cfg.Providers.RegistryURL, cfg.Providers.RegistryAPIKey, httpClient)
	if err != nil {
		return err
	}
	oracleClient, err := providers.NewOracleClient(cfg.Providers.OracleURL, cfg.Providers.OracleAPIKey, httpClient)
	if err != nil {
		return err
	}
	coordinator := verification.NewCoordinator(registryClient, oracleClient, cfg.Verification)

	engine, err := accrual.NewEngine(cfg.Accrual.Convention, s.Tokens)
	if err != nil {
		return err
	}

	zap.L().Info("Connecting to Coinbase Prime")
	chain, err := prime.NewService(ctx, cfg.Prime, s.Tokens)
	if err != nil {
		return err
	}

	var trackerOpts []settlement.Option
	var orchestratorOpts []lifecycle.Option
	if cfg.Formance.StackURL != "" {
		mirror, err := formance.NewService(ctx, cfg.Formance, s.Tokens)
		if err != nil {
			return err
		}
		s.Mirror = mirror
		trackerOpts = append(trackerOpts, settlement.WithMirror(mirror))
		orchestratorOpts = append(orchestratorOpts, lifecycle.WithMirror(mirror))
		zap.L().Info("Journal mirror enabled", zap.String("ledger", cfg.Formance.LedgerName))
	}

	if cfg.Providers.DeedURL != "" {
		deeds, err := providers.NewDeedClient(cfg.Providers.DeedURL, cfg.Providers.DeedAPIKey, httpClient)
		if err != nil {
			return err
		}
		trackerOpts = append(trackerOpts, settlement.WithObserver(lifecycle.NewDeedObserver(s.Ledger, deeds)))
	} else {
		zap.L().Warn("DEED_URL not set, mortgage deeds will not be minted")
	}

	trackerOpts = append(trackerOpts, settlement.WithLateConfirmationWindow(cfg.Settlement.LateConfirmationWindow))
	s.Tracker = settlement.NewTracker(s.Ledger, chain, cfg.Settlement.ConfirmationWindow, trackerOpts...)
	s.Orchestrator = lifecycle.NewOrchestrator(s.Ledger, coordinator, s.Tracker, engine,
		s.Tokens, cfg.Lifecycle, orchestratorOpts...)

	var receivables api.ReceivableSource
	if s.Mirror != nil {
		receivables = s.Mirror
	}
	s.Loans = api.NewLoanService(s.Ledger, receivables)
	if s.redis != nil {
		client := s.redis
		s.Loans.AddHealthCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return nil
}

// InitializeDatabaseOnly opens just the ledger without any provider.
// Useful for read-only operations like listing loans
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, func(), error) {
	ledger, redisClient, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		ledger.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	return ledger, closer, nil
}

func openLedger(ctx context.Context, cfg *models.Config) (*database.Service, *redis.Client, error) {
	var locker lock.Locker
	var redisClient *redis.Client
	if cfg.Lock.Backend == config.LockBackendRedis {
		client, err := lock.OpenRedis(cfg.Lock.RedisAddr, cfg.Lock.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		redisClient = client
		locker = lock.NewRedis(client, cfg.Lock.TTL, cfg.Lock.RetryWait)
		zap.L().Info("Using Redis loan lock", zap.String("addr", cfg.Lock.RedisAddr))
	}

	ledger, err := database.NewService(ctx, cfg.Database, locker)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}
	return ledger, redisClient, nil
}

func (s *Services) Close() {
	if s.Ledger != nil {
		s.Ledger.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
