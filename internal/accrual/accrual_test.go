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
	"errors"
	"testing"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

type fixedPrecision map[string]int32

func (f fixedPrecision) Decimals(symbol, chain string) (int32, bool) {
	d, ok := f[symbol+"-"+chain]
	return d, ok
}

var precision = fixedPrecision{"USDC-ethereum": 6, "SEKX-ethereum": 2}

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func activeLoan(token string) *models.Loan {
	return &models.Loan{
		Id:             "loan-1",
		Principal:      decimal.NewFromInt(100000),
		CurrentBalance: decimal.NewFromInt(100000),
		InterestRate:   decimal.RequireFromString("0.05"),
		TokenSymbol:    token,
		ChainName:      "ethereum",
		Status:         models.LoanStatusActive,
		LastAccrualAt:  start,
	}
}

func newEngine(t *testing.T, convention string) *Engine {
	t.Helper()
	e, err := NewEngine(convention, precision)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestAccrueOneYear(t *testing.T) {
	tests := []struct {
		name       string
		convention string
		token      string
		want       string
	}{
		{"compound at cents", ConventionCompoundDaily, "SEKX", "105126.75"},
		{"compound at token precision", ConventionCompoundDaily, "USDC", "105126.749647"},
		{"simple at cents", ConventionSimple, "SEKX", "105000.00"},
		{"simple at token precision", ConventionSimple, "USDC", "105000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.convention)
			loan := activeLoan(tt.token)

			res, err := e.Accrue(loan, start.Add(365*day))
			if err != nil {
				t.Fatalf("Accrue() error = %v", err)
			}
			if want := decimal.RequireFromString(tt.want); !res.Balance.Equal(want) {
				t.Errorf("Balance = %s, want %s", res.Balance, want)
			}
			if res.Days != 365 {
				t.Errorf("Days = %d, want 365", res.Days)
			}
			if !res.Interest.Equal(res.Balance.Sub(loan.CurrentBalance)) {
				t.Errorf("Interest = %s, inconsistent with balance", res.Interest)
			}
		})
	}
}

func TestAccrueShortPeriods(t *testing.T) {
	e := newEngine(t, ConventionCompoundDaily)

	tests := []struct {
		elapsed time.Duration
		want    string
		days    int64
	}{
		{day, "100013.69863", 1},
		{30 * day, "100411.776237", 30},
		{23 * time.Hour, "100000", 0},
	}
	for _, tt := range tests {
		res, err := e.Accrue(activeLoan("USDC"), start.Add(tt.elapsed))
		if err != nil {
			t.Fatalf("Accrue(%v) error = %v", tt.elapsed, err)
		}
		if !res.Balance.Equal(decimal.RequireFromString(tt.want)) || res.Days != tt.days {
			t.Errorf("Accrue(%v) = %s over %d days, want %s over %d", tt.elapsed, res.Balance, res.Days, tt.want, tt.days)
		}
	}
}

func TestAccrueIsIdempotent(t *testing.T) {
	e := newEngine(t, ConventionCompoundDaily)
	loan := activeLoan("USDC")
	asOf := start.Add(10*day + 5*time.Hour)

	first, err := e.Accrue(loan, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if want := start.Add(10 * day); !first.AccruedThrough.Equal(want) {
		t.Errorf("AccruedThrough = %v, want %v (partial day carried)", first.AccruedThrough, want)
	}

	loan.CurrentBalance = first.Balance
	loan.LastAccrualAt = first.AccruedThrough
	second, err := e.Accrue(loan, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if second.Days != 0 || !second.Balance.Equal(first.Balance) || !second.Interest.IsZero() {
		t.Errorf("second Accrue() = %+v, want no-op", second)
	}
}

func TestAccrueNeverDecreases(t *testing.T) {
	e := newEngine(t, ConventionCompoundDaily)
	loan := activeLoan("USDC")
	loan.InterestRate = decimal.Zero

	res, err := e.Accrue(loan, start.Add(100*day))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Equal(loan.CurrentBalance) {
		t.Errorf("zero rate changed balance to %s", res.Balance)
	}

	res, err = e.Accrue(loan, start.Add(-5*day))
	if err != nil {
		t.Fatal(err)
	}
	if res.Days != 0 || !res.Balance.Equal(loan.CurrentBalance) {
		t.Errorf("asOf before last accrual = %+v, want no-op", res)
	}
}

func TestAccruePreconditions(t *testing.T) {
	e := newEngine(t, ConventionCompoundDaily)

	tests := []struct {
		status models.LoanStatus
		token  string
		want   error
	}{
		{models.LoanStatusPendingVerification, "USDC", errs.ErrAccrualOnInactiveLoan},
		{models.LoanStatusPaidOff, "USDC", errs.ErrLoanClosed},
		{models.LoanStatusDefaulted, "USDC", errs.ErrLoanClosed},
		{models.LoanStatusActive, "DOGE", errs.ErrUnsupportedToken},
	}
	for _, tt := range tests {
		loan := activeLoan(tt.token)
		loan.Status = tt.status
		if _, err := e.Accrue(loan, start.Add(day)); !errors.Is(err, tt.want) {
			t.Errorf("Accrue(%s, %s) error = %v, want %v", tt.status, tt.token, err, tt.want)
		}
	}
}

func TestNewEngineRejectsUnknownConvention(t *testing.T) {
	if _, err := NewEngine("continuous", precision); err == nil {
		t.Error("expected error")
	}
	e, err := NewEngine("", precision)
	if err != nil || e.Convention() != ConventionCompoundDaily {
		t.Errorf("default convention = %v, %v", e, err)
	}
}
