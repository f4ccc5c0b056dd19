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

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var reference sql.NullString
	var blockHeight sql.NullInt64
	var confirmedAt, failedAt sql.NullTime

	err := row.Scan(&p.Id, &p.LoanId, &p.UserId, &p.Kind, &p.Amount, &p.AppliedAmount,
		&p.TokenSymbol, &p.ChainName, &p.Recipient, &p.IdempotencyKey, &reference, &p.Status,
		&blockHeight, &p.FailureReason, &p.CreatedAt, &confirmedAt, &failedAt)
	if err != nil {
		return nil, err
	}

	p.TransactionReference = reference.String
	if blockHeight.Valid {
		h := blockHeight.Int64
		p.BlockHeight = &h
	}
	p.ConfirmedAt = timePtr(confirmedAt)
	p.FailedAt = timePtr(failedAt)
	return &p, nil
}

func getPayment(ctx context.Context, q querier, query, arg string) (*models.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrPaymentNotFound, "payment %s", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentId string) (*models.Payment, error) {
	return getPayment(ctx, s.db, queryGetPayment, paymentId)
}

func (s *Service) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	if reference == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "transaction reference is required")
	}
	return getPayment(ctx, s.db, queryGetPaymentByReference, reference)
}

func (s *Service) ListPayments(ctx context.Context, loanId string) ([]models.Payment, error) {
	return queryPayments(ctx, s.db, queryListPayments, loanId)
}

func (s *Service) ListPendingPayments(ctx context.Context) ([]models.Payment, error) {
	return queryPayments(ctx, s.db, queryListPendingPayments)
}

// SetPaymentReference attaches the provider reference to a pending payment.
func (s *Service) SetPaymentReference(ctx context.Context, paymentId, reference string) error {
	if reference == "" {
		return errs.New(errs.ErrInvalidRequest, "transaction reference is required")
	}

	result, err := s.db.ExecContext(ctx, querySetPaymentReference, reference, paymentId)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.ErrConflictingSettlement, "reference %s already belongs to another payment", reference)
		}
		return fmt.Errorf("failed to set payment reference: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := s.GetPayment(ctx, paymentId)
	if err != nil {
		return err
	}
	if existing.TransactionReference == reference {
		return nil
	}
	if existing.TransactionReference != "" {
		return errs.New(errs.ErrConflictingSettlement, "payment %s already has reference %s",
			paymentId, existing.TransactionReference)
	}
	return errs.New(errs.ErrConflictingSettlement, "payment %s is already %s", paymentId, existing.Status)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]models.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer closeRows(rows)

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	if p.Id == "" {
		p.Id = uuid.New().String()
	}
	if !p.Amount.IsPositive() {
		return errs.New(errs.ErrInvalidAmount, "payment amount must be positive, got %s", p.Amount)
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}

	_, err := tx.ExecContext(ctx, queryInsertPayment,
		p.Id, p.LoanId, p.UserId, p.Kind, p.Amount, p.TokenSymbol, p.ChainName, p.Recipient,
		p.IdempotencyKey, nullString(p.TransactionReference), p.Status, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.ErrIdempotencyConflict, "payment key %s or reference %s already used",
				p.IdempotencyKey, p.TransactionReference)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	zap.L().Info("Payment recorded",
		zap.String("payment_id", p.Id),
		zap.String("loan_id", p.LoanId),
		zap.String("kind", string(p.Kind)),
		zap.String("amount", p.Amount.String()),
		zap.String("idempotency_key", p.IdempotencyKey))
	return nil
}

func sumAmounts(ctx context.Context, tx *sql.Tx, query string, args ...any) (decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer closeRows(rows)

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
