/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"mortgage-settlement-go/internal/models"
)

const (
	ConventionCompoundDaily = "compound_daily"
	ConventionSimple        = "simple"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Load reads the configuration from the environment. Every invalid duration
// or decimal is reported, not just the first one.
func Load() (*models.Config, error) {
	var errs error
	duration := func(key string, defaultValue time.Duration) time.Duration {
		d, err := getEnvDuration(key, defaultValue)
		errs = multierr.Append(errs, err)
		return d
	}

	threshold, err := getEnvDecimal("VERIFICATION_CONFIDENCE_THRESHOLD", decimal.RequireFromString("0.8"))
	errs = multierr.Append(errs, err)

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "mortgage.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: duration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:     duration("DB_PING_TIMEOUT", 5*time.Second),
			BusyTimeout:     duration("DB_BUSY_TIMEOUT", 5*time.Second),
		},
		Lock: models.LockConfig{
			Backend:   getEnvString("LOCK_BACKEND", LockBackendMemory),
			RedisAddr: getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
			TTL:       duration("LOCK_TTL", 30*time.Second),
			RetryWait: duration("LOCK_RETRY_WAIT", 50*time.Millisecond),
		},
		Verification: models.VerificationConfig{
			ConfidenceThreshold: threshold,
			CallTimeout:         duration("VERIFICATION_CALL_TIMEOUT", 10*time.Second),
			MaxAttempts:         getEnvInt("VERIFICATION_MAX_ATTEMPTS", 3),
			InitialBackoff:      duration("VERIFICATION_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:          duration("VERIFICATION_MAX_BACKOFF", 5*time.Second),
		},
		Accrual: models.AccrualConfig{
			Convention: getEnvString("ACCRUAL_CONVENTION", ConventionCompoundDaily),
			Interval:   duration("ACCRUAL_INTERVAL", 24*time.Hour),
		},
		Settlement: models.SettlementConfig{
			ConfirmationWindow:     duration("SETTLEMENT_CONFIRMATION_WINDOW", time.Hour),
			LateConfirmationWindow: duration("SETTLEMENT_LATE_CONFIRMATION_WINDOW", 24*time.Hour),
			PollingInterval:        duration("SETTLEMENT_POLLING_INTERVAL", 30*time.Second),
		},
		Lifecycle: models.LifecycleConfig{
			MaxMissedPayments: getEnvInt("DEFAULT_MAX_MISSED_PAYMENTS", 3),
			PaymentInterval:   duration("DEFAULT_PAYMENT_INTERVAL", 30*24*time.Hour),
			CycleConcurrency:  getEnvInt("CYCLE_CONCURRENCY", 8),
		},
		Providers: models.ProvidersConfig{
			RegistryURL:    getEnvString("REGISTRY_URL", "http://localhost:8081"),
			RegistryAPIKey: os.Getenv("REGISTRY_API_KEY"),
			OracleURL:      getEnvString("ORACLE_URL", "http://localhost:8082"),
			OracleAPIKey:   os.Getenv("ORACLE_API_KEY"),
			DeedURL:        os.Getenv("DEED_URL"),
			DeedAPIKey:     os.Getenv("DEED_API_KEY"),
		},
		Prime: models.PrimeConfig{
			PortfolioId:    os.Getenv("PRIME_PORTFOLIO_ID"),
			StatusLookback: duration("PRIME_STATUS_LOOKBACK", 6*time.Hour),
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "mortgage-loans"),
		},
		Webhook: models.WebhookConfig{
			Addr:  getEnvString("WEBHOOK_ADDR", ":8080"),
			Token: os.Getenv("WEBHOOK_TOKEN"),
		},
		TokensFile: getEnvString("TOKENS_FILE", "tokens.yaml"),
	}

	if errs != nil {
		return nil, errs
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that typed parsing cannot express.
func Validate(cfg *models.Config) error {
	switch cfg.Accrual.Convention {
	case ConventionCompoundDaily, ConventionSimple:
	default:
		return fmt.Errorf("invalid ACCRUAL_CONVENTION: %q", cfg.Accrual.Convention)
	}

	switch cfg.Lock.Backend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("invalid LOCK_BACKEND: %q", cfg.Lock.Backend)
	}

	t := cfg.Verification.ConfidenceThreshold
	if t.IsNegative() || t.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("confidence threshold must be within [0, 1], got %s", t)
	}
	if cfg.Verification.MaxAttempts < 1 {
		return fmt.Errorf("verification max attempts must be at least 1, got %d", cfg.Verification.MaxAttempts)
	}
	if cfg.Lifecycle.MaxMissedPayments < 1 {
		return fmt.Errorf("max missed payments must be at least 1, got %d", cfg.Lifecycle.MaxMissedPayments)
	}
	if cfg.Lifecycle.PaymentInterval <= 0 {
		return fmt.Errorf("payment interval must be positive")
	}
	if cfg.Settlement.ConfirmationWindow <= 0 {
		return fmt.Errorf("confirmation window must be positive")
	}
	if cfg.Settlement.LateConfirmationWindow < 0 {
		return fmt.Errorf("late confirmation window must not be negative")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
