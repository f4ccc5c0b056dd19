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

package accrual

import (
	"fmt"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	ConventionCompoundDaily = "compound_daily"
	ConventionSimple        = "simple"

	day = 24 * time.Hour

	// Working precision for the growth factor, well beyond any token's decimals.
	workingPrecision = 28
)

var daysPerYear = decimal.NewFromInt(365)

// Precision resolves the number of decimals a token carries on a chain.
type Precision interface {
	Decimals(symbol, chain string) (int32, bool)
}

// Result is the outcome of one accrual. Days is zero when less than a whole
// day has elapsed, in which case nothing changes.
type Result struct {
	Balance        decimal.Decimal
	Interest       decimal.Decimal
	Days           int64
	AccruedThrough time.Time
}

// Engine computes interest as a pure function of the loan and a timestamp.
// Callers serialize per loan and persist the result.
type Engine struct {
	convention string
	precision  Precision
}

func NewEngine(convention string, precision Precision) (*Engine, error) {
	switch convention {
	case "":
		convention = ConventionCompoundDaily
	case ConventionCompoundDaily, ConventionSimple:
	default:
		return nil, fmt.Errorf("unknown accrual convention %q", convention)
	}
	return &Engine{convention: convention, precision: precision}, nil
}

func (e *Engine) Convention() string {
	return e.convention
}

// Accrue grows the balance for every whole day between the loan's last accrual
// and asOf. The returned AccruedThrough advances by exactly Days*24h so the
// remainder of a partial day carries into the next call.
func (e *Engine) Accrue(loan *models.Loan, asOf time.Time) (Result, error) {
	if loan.Status.IsTerminal() {
		return Result{}, errs.New(errs.ErrLoanClosed, "loan %s is %s", loan.Id, loan.Status)
	}
	if loan.Status != models.LoanStatusActive {
		return Result{}, errs.New(errs.ErrAccrualOnInactiveLoan, "loan %s is %s", loan.Id, loan.Status)
	}

	decimals, ok := e.precision.Decimals(loan.TokenSymbol, loan.ChainName)
	if !ok {
		return Result{}, errs.New(errs.ErrUnsupportedToken, "%s on %s", loan.TokenSymbol, loan.ChainName)
	}

	unchanged := Result{Balance: loan.CurrentBalance, Interest: decimal.Zero, AccruedThrough: loan.LastAccrualAt}

	days := int64(asOf.Sub(loan.LastAccrualAt) / day)
	if days <= 0 {
		return unchanged, nil
	}

	factor := e.factor(loan.InterestRate, days)
	balance := loan.CurrentBalance.Mul(factor).RoundBank(decimals)
	if balance.LessThan(loan.CurrentBalance) {
		balance = loan.CurrentBalance
	}

	return Result{
		Balance:        balance,
		Interest:       balance.Sub(loan.CurrentBalance),
		Days:           days,
		AccruedThrough: loan.LastAccrualAt.Add(time.Duration(days) * day),
	}, nil
}

func (e *Engine) factor(rate decimal.Decimal, days int64) decimal.Decimal {
	if e.convention == ConventionSimple {
		return decimal.NewFromInt(1).Add(rate.Mul(decimal.NewFromInt(days)).DivRound(daysPerYear, workingPrecision))
	}
	daily := decimal.NewFromInt(1).Add(rate.DivRound(daysPerYear, workingPrecision))
	return pow(daily, days)
}

// pow raises base to a non-negative integer power by repeated squaring.
func pow(base decimal.Decimal, exp int64) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Round(workingPrecision)
		}
		base = base.Mul(base).Round(workingPrecision)
		exp >>= 1
	}
	return result
}
