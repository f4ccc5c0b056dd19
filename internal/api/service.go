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

package api

import (
	"context"
	"fmt"

	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pinger is satisfied by the SQLite ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReceivableSource reports a loan's receivable balance from an external
// ledger, such as the Formance mirror.
type ReceivableSource interface {
	ReceivableBalance(ctx context.Context, loan *models.Loan) (decimal.Decimal, error)
}

// HealthFunc checks one dependency.
type HealthFunc func(ctx context.Context) error

type healthCheck struct {
	name  string
	check HealthFunc
}

// LoanService provides the read side used by the webhook and the CLIs
type LoanService struct {
	db     store.LedgerStore
	mirror ReceivableSource
	checks []healthCheck
}

func NewLoanService(db store.LedgerStore, mirror ReceivableSource) *LoanService {
	return &LoanService{
		db:     db,
		mirror: mirror,
	}
}

// AddHealthCheck registers a dependency reported by HealthCheck next to the
// database. Not safe to call once the service is in use.
func (s *LoanService) AddHealthCheck(name string, check HealthFunc) {
	s.checks = append(s.checks, healthCheck{name: name, check: check})
}

// HealthCheck checks the database and every registered dependency. The
// report is always returned; the error combines the failed checks.
func (s *LoanService) HealthCheck(ctx context.Context) (*models.HealthReport, error) {
	report := &models.HealthReport{Status: models.HealthOK, Dependencies: make(map[string]string)}

	var combined error
	checks := append([]healthCheck{{name: "database", check: s.pingDatabase}}, s.checks...)
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			zap.L().Warn("Health check failed", zap.String("dependency", c.name), zap.Error(err))
			report.Status = models.HealthUnhealthy
			report.Dependencies[c.name] = models.HealthUnhealthy
			combined = multierr.Append(combined, fmt.Errorf("%s health check failed: %w", c.name, err))
			continue
		}
		report.Dependencies[c.name] = models.HealthOK
	}
	return report, combined
}

func (s *LoanService) pingDatabase(ctx context.Context) error {
	if p, ok := s.db.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.db.ListLoans(ctx, models.LoanStatusActive)
	return err
}
