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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mortgage-settlement-go/internal/accrual"
	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/journal"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/settlement"
	"mortgage-settlement-go/internal/store"
	"mortgage-settlement-go/internal/tokens"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Verifier interface {
	Verify(ctx context.Context, propertyId, ownerRef, claimedAddress string) (*models.VerificationRecord, error)
}

type Transfers interface {
	InitiateTransfer(ctx context.Context, req settlement.TransferRequest) (*models.Payment, error)
}

type Accruer interface {
	Accrue(loan *models.Loan, asOf time.Time) (accrual.Result, error)
}

type OriginationRequest struct {
	UserId         string
	PropertyId     string
	ClaimedAddress string
	Principal      decimal.Decimal
	InterestRate   decimal.Decimal
	Token          string
	Chain          string
	// IntentId identifies the disbursement; generated when empty.
	IntentId string
}

type OriginationResult struct {
	Loan         *models.Loan
	Disbursement *models.Payment
}

type RepaymentRequest struct {
	LoanId               string
	IntentId             string
	Amount               decimal.Decimal
	TransactionReference string
}

// Orchestrator drives a loan from origination to paid_off or defaulted.
type Orchestrator struct {
	store     store.LedgerStore
	verifier  Verifier
	transfers Transfers
	accruer   Accruer
	tokens    *tokens.Registry
	policy    models.LifecycleConfig
	mirror    settlement.Mirror
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithMirror(m settlement.Mirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(ledger store.LedgerStore, verifier Verifier, transfers Transfers, accruer Accruer,
	registry *tokens.Registry, policy models.LifecycleConfig, opts ...Option) *Orchestrator {

	if policy.CycleConcurrency < 1 {
		policy.CycleConcurrency = 1
	}
	o := &Orchestrator{
		store:     ledger,
		verifier:  verifier,
		transfers: transfers,
		accruer:   accruer,
		tokens:    registry,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Originate verifies the property, persists the loan together with the
// verification snapshot and initiates the disbursement. Nothing is written
// when verification fails. When the disbursement cannot be initiated the
// loan stays pending_verification and the error is returned with it.
func (o *Orchestrator) Originate(ctx context.Context, req OriginationRequest) (*OriginationResult, error) {
	if !req.Principal.IsPositive() {
		return nil, errs.New(errs.ErrInvalidAmount, "principal must be positive, got %s", req.Principal)
	}
	if req.InterestRate.IsNegative() || req.InterestRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.New(errs.ErrInvalidRate, "interest rate must be in [0, 1), got %s", req.InterestRate)
	}
	token, ok := o.tokens.Lookup(req.Token, req.Chain)
	if !ok {
		return nil, errs.New(errs.ErrUnsupportedToken, "%s on %s", req.Token, req.Chain)
	}
	chain, _ := o.tokens.Chain(req.Chain)
	if req.Principal.Exponent() < -token.Decimals {
		return nil, errs.New(errs.ErrInvalidAmount, "principal %s exceeds %d decimals of %s", req.Principal, token.Decimals, token.Symbol)
	}

	user, err := o.store.GetUserById(ctx, req.UserId)
	if err != nil {
		return nil, err
	}
	if user.WalletAddress == "" {
		return nil, errs.New(errs.ErrWalletNotLinked, "user %s has no wallet", user.Id)
	}

	zap.L().Info("Verifying property",
		zap.String("user_id", user.Id),
		zap.String("property_id", req.PropertyId))

	record, err := o.verifier.Verify(ctx, req.PropertyId, user.BankId, req.ClaimedAddress)
	if err != nil {
		zap.L().Warn("Origination rejected",
			zap.String("user_id", user.Id),
			zap.String("property_id", req.PropertyId),
			zap.String("kind", string(errs.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	loan, err := o.store.CreateLoan(ctx, store.CreateLoanParams{
		UserId:       user.Id,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		TokenSymbol:  token.Symbol,
		ChainName:    chain.Name,
		Verification: *record,
		CreatedAt:    o.now(),
	})
	if err != nil {
		return nil, err
	}

	result := &OriginationResult{Loan: loan}
	result.Disbursement, err = o.disburse(ctx, loan, user, req.IntentId)
	return result, err
}

// RetryDisbursement initiates a new disbursement for a loan whose previous
// one failed. The loan must still be pending_verification.
func (o *Orchestrator) RetryDisbursement(ctx context.Context, loanId, intentId string) (*models.Payment, error) {
	loan, err := o.store.GetLoan(ctx, loanId)
	if err != nil {
		return nil, err
	}
	user, err := o.store.GetUserById(ctx, loan.UserId)
	if err != nil {
		return nil, err
	}
	return o.disburse(ctx, loan, user, intentId)
}

func (o *Orchestrator) disburse(ctx context.Context, loan *models.Loan, user *models.User, intentId string) (*models.Payment, error) {
	if intentId == "" {
		intentId = uuid.New().String()
	}
	payment, err := o.transfers.InitiateTransfer(ctx, settlement.TransferRequest{
		LoanId:    loan.Id,
		IntentId:  intentId,
		Kind:      models.PaymentKindDisbursement,
		Amount:    loan.Principal,
		Token:     loan.TokenSymbol,
		Chain:     loan.ChainName,
		Recipient: user.WalletAddress,
	})
	if err != nil {
		return payment, fmt.Errorf("disbursement of loan %s: %w", loan.Id, err)
	}
	return payment, nil
}

// Repay records a pending repayment addressed to the chain's treasury.
func (o *Orchestrator) Repay(ctx context.Context, req RepaymentRequest) (*models.Payment, error) {
	loan, err := o.store.GetLoan(ctx, req.LoanId)
	if err != nil {
		return nil, err
	}
	if loan.Status.IsTerminal() {
		return nil, errs.New(errs.ErrLoanClosed, "loan %s is %s", loan.Id, loan.Status)
	}
	treasury, ok := o.tokens.Treasury(loan.ChainName)
	if !ok {
		return nil, errs.New(errs.ErrUnsupportedToken, "no treasury configured for %s", loan.ChainName)
	}

	intentId := req.IntentId
	if intentId == "" {
		intentId = uuid.New().String()
	}
	return o.transfers.InitiateTransfer(ctx, settlement.TransferRequest{
		LoanId:               loan.Id,
		IntentId:             intentId,
		Kind:                 models.PaymentKindRepayment,
		Amount:               req.Amount,
		Token:                loan.TokenSymbol,
		Chain:                loan.ChainName,
		Recipient:            treasury,
		TransactionReference: req.TransactionReference,
	})
}

// Accrue grows the balance of an active loan up to asOf. Repeating the call
// with the same asOf changes nothing.
func (o *Orchestrator) Accrue(ctx context.Context, loanId string, asOf time.Time) (*models.Loan, error) {
	var loan *models.Loan
	var result accrual.Result

	err := o.store.WithLoanLock(ctx, loanId, func(tx store.LoanTx) error {
		loan = tx.Loan()

		var err error
		result, err = o.accruer.Accrue(loan, asOf)
		if err != nil {
			if errors.Is(err, errs.ErrAccrualOnInactiveLoan) {
				zap.L().Error("Accrual requested on inactive loan",
					zap.String("loan_id", loan.Id),
					zap.String("status", string(loan.Status)))
			}
			return err
		}
		if result.Days == 0 {
			return nil
		}

		loan.CurrentBalance = result.Balance
		loan.LastAccrualAt = result.AccruedThrough
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		return tx.AddJournalEntries(ctx, journal.Accrual(loan, result.Interest))
	})
	if err != nil {
		return nil, err
	}

	if result.Days > 0 {
		zap.L().Info("Interest accrued",
			zap.String("loan_id", loan.Id),
			zap.Int64("days", result.Days),
			zap.String("interest", result.Interest.String()),
			zap.String("balance", loan.CurrentBalance.String()))

		if o.mirror != nil && result.Interest.IsPositive() {
			reference := loan.Id + ":accrual:" + result.AccruedThrough.Format("20060102")
			if err := o.mirror.Post(ctx, loan, reference, journal.Accrual(loan, result.Interest), result.AccruedThrough); err != nil {
				zap.L().Warn("Failed to mirror accrual", zap.String("loan_id", loan.Id), zap.Error(err))
			}
		}
	}
	return loan, nil
}

// missedPayments counts whole payment intervals since the last confirmed
// repayment, or since activation when there was none.
func (o *Orchestrator) missedPayments(loan *models.Loan, asOf time.Time) int64 {
	if o.policy.PaymentInterval <= 0 || loan.ActivatedAt == nil {
		return 0
	}
	anchor := *loan.ActivatedAt
	if loan.LastPaymentAt != nil && loan.LastPaymentAt.After(anchor) {
		anchor = *loan.LastPaymentAt
	}
	if !asOf.After(anchor) {
		return 0
	}
	return int64(asOf.Sub(anchor) / o.policy.PaymentInterval)
}

// EvaluateDefault moves an active loan to defaulted when it has missed
// max_missed_payments scheduled payments. It reports whether it did.
func (o *Orchestrator) EvaluateDefault(ctx context.Context, loanId string, asOf time.Time) (bool, error) {
	defaulted := false
	err := o.store.WithLoanLock(ctx, loanId, func(tx store.LoanTx) error {
		loan := tx.Loan()
		if loan.Status.IsTerminal() {
			return errs.New(errs.ErrLoanClosed, "loan %s is %s", loan.Id, loan.Status)
		}
		if loan.Status != models.LoanStatusActive {
			return nil
		}

		missed := o.missedPayments(loan, asOf)
		if o.policy.MaxMissedPayments < 1 || missed < int64(o.policy.MaxMissedPayments) {
			return nil
		}

		closedAt := asOf.UTC()
		loan.Status = models.LoanStatusDefaulted
		loan.ClosedAt = &closedAt
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		defaulted = true

		zap.L().Warn("Loan defaulted",
			zap.String("loan_id", loan.Id),
			zap.Int64("missed_payments", missed),
			zap.String("balance", loan.CurrentBalance.String()))
		return nil
	})
	return defaulted, err
}

// RunCycle accrues and evaluates default for every active loan. Loans are
// processed concurrently; one loan's failure does not stop the others.
func (o *Orchestrator) RunCycle(ctx context.Context, asOf time.Time) error {
	loans, err := o.store.ListLoans(ctx, models.LoanStatusActive)
	if err != nil {
		return fmt.Errorf("failed to list active loans: %w", err)
	}

	var (
		mu     sync.Mutex
		result error
		g      errgroup.Group
	)
	g.SetLimit(o.policy.CycleConcurrency)

	for _, loan := range loans {
		loanId := loan.Id
		g.Go(func() error {
			err := o.cycleLoan(ctx, loanId, asOf)
			if err != nil && !errors.Is(err, errs.ErrLoanClosed) {
				mu.Lock()
				result = multierr.Append(result, fmt.Errorf("loan %s: %w", loanId, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("Lifecycle cycle completed",
		zap.Int("loans", len(loans)),
		zap.Int("errors", len(multierr.Errors(result))),
		zap.Time("as_of", asOf))
	return result
}

func (o *Orchestrator) cycleLoan(ctx context.Context, loanId string, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.Accrue(ctx, loanId, asOf); err != nil {
		return err
	}
	_, err := o.EvaluateDefault(ctx, loanId, asOf)
	return err
}
