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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// loanTx implements store.LoanTx on top of one *sql.Tx.
type loanTx struct {
	tx       *sql.Tx
	loan     *models.Loan
	original models.Loan
	now      func() time.Time
}

func (t *loanTx) Loan() *models.Loan {
	return t.loan
}

// SaveLoan persists the loan with an optimistic version check and refuses
// negative balances and backwards status moves.
func (t *loanTx) SaveLoan(ctx context.Context, loan *models.Loan) error {
	if loan.Id != t.original.Id {
		return fmt.Errorf("loan %s is not locked by this transaction", loan.Id)
	}
	if loan.CurrentBalance.IsNegative() {
		return errs.New(errs.ErrInvalidTransition, "balance of loan %s would become %s", loan.Id, loan.CurrentBalance)
	}
	if loan.Status != t.original.Status && !t.original.Status.CanTransitionTo(loan.Status) {
		return errs.New(errs.ErrInvalidTransition, "loan %s cannot move from %s to %s",
			loan.Id, t.original.Status, loan.Status)
	}

	now := t.now()
	result, err := t.tx.ExecContext(ctx, queryUpdateLoan,
		loan.CurrentBalance, loan.Status, loan.LastAccrualAt.UTC(), nullTime(loan.LastPaymentAt),
		nullTime(loan.ActivatedAt), nullTime(loan.ClosedAt), now, loan.Id, loan.Version)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errs.New(errs.ErrConcurrentModification, "loan %s changed since version %d", loan.Id, loan.Version)
	}

	loan.Version++
	loan.UpdatedAt = now
	t.loan = loan
	t.original = *loan
	return nil
}

func (t *loanTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.LoanId != t.original.Id {
		return fmt.Errorf("payment for loan %s inserted under lock of loan %s", payment.LoanId, t.original.Id)
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = t.now()
	}
	return insertPayment(ctx, t.tx, payment)
}

func (t *loanTx) GetPayment(ctx context.Context, paymentId string) (*models.Payment, error) {
	p, err := getPayment(ctx, t.tx, queryGetPayment, paymentId)
	if err != nil {
		return nil, err
	}
	if p.LoanId != t.original.Id {
		return nil, errs.New(errs.ErrPaymentNotFound, "payment %s does not belong to loan %s", paymentId, t.original.Id)
	}
	return p, nil
}

func (t *loanTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	p, err := getPayment(ctx, t.tx, queryGetPaymentByIdempotencyKey, key)
	if errors.Is(err, errs.ErrPaymentNotFound) {
		return nil, nil
	}
	return p, err
}

func (t *loanTx) Payments(ctx context.Context) ([]models.Payment, error) {
	return queryPayments(ctx, t.tx, queryListPayments, t.original.Id)
}

func (t *loanTx) UpdatePaymentSettlement(ctx context.Context, p *models.Payment) error {
	if p.Status == models.PaymentStatusPending {
		return errs.New(errs.ErrInvalidTransition, "payment %s cannot be settled as pending", p.Id)
	}

	var blockHeight sql.NullInt64
	if p.BlockHeight != nil {
		blockHeight = sql.NullInt64{Int64: *p.BlockHeight, Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, queryUpdatePaymentSettlement,
		p.Status, p.AppliedAmount, blockHeight, p.FailureReason, nullTime(p.ConfirmedAt),
		nullTime(p.FailedAt), nullString(p.TransactionReference), p.Id, t.original.Id)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.ErrConflictingSettlement, "reference %s already belongs to another payment", p.TransactionReference)
		}
		return fmt.Errorf("failed to settle payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errs.New(errs.ErrConcurrentModification, "payment %s is no longer pending", p.Id)
	}
	return nil
}

func (t *loanTx) PendingRepaymentTotal(ctx context.Context) (decimal.Decimal, error) {
	total, err := sumAmounts(ctx, t.tx, queryPendingRepaymentAmounts, t.original.Id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pending repayments: %w", err)
	}
	return total, nil
}

func (t *loanTx) AddJournalEntries(ctx context.Context, entries []models.JournalEntry) error {
	return addJournalEntries(ctx, t.tx, t.original.Id, entries, t.now())
}
