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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig
	Lock         LockConfig
	Verification VerificationConfig
	Accrual      AccrualConfig
	Settlement   SettlementConfig
	Lifecycle    LifecycleConfig
	Providers    ProvidersConfig
	Prime        PrimeConfig
	Formance     FormanceConfig
	Webhook      WebhookConfig
	TokensFile   string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// LockConfig selects the per-loan lock backend ("memory" or "redis")
type LockConfig struct {
	Backend   string
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
	RetryWait time.Duration
}

// VerificationConfig holds registry/oracle call policy
type VerificationConfig struct {
	ConfidenceThreshold decimal.Decimal
	CallTimeout         time.Duration
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

// AccrualConfig controls the interest convention and scheduler cadence
type AccrualConfig struct {
	Convention string // "compound_daily" or "simple"
	Interval   time.Duration
}

// SettlementConfig holds transfer confirmation settings
type SettlementConfig struct {
	ConfirmationWindow     time.Duration
	LateConfirmationWindow time.Duration
	PollingInterval        time.Duration
}

// LifecycleConfig holds the default policy and cycle fan-out
type LifecycleConfig struct {
	MaxMissedPayments int
	PaymentInterval   time.Duration
	CycleConcurrency  int
}

// ProvidersConfig holds the registry, oracle and deed endpoints
type ProvidersConfig struct {
	RegistryURL    string
	RegistryAPIKey string
	OracleURL      string
	OracleAPIKey   string
	DeedURL        string
	DeedAPIKey     string
}

// PrimeConfig holds Coinbase Prime settlement settings. Credentials are read
// separately from the environment.
type PrimeConfig struct {
	PortfolioId    string
	StatusLookback time.Duration
}

// FormanceConfig enables the journal mirror when StackURL is set
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// WebhookConfig holds the settlement notification listener settings
type WebhookConfig struct {
	Addr  string
	Token string
}
