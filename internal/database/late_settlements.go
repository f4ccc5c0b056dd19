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
	"fmt"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanLateSettlement(row rowScanner) (*models.LateSettlement, error) {
	var l models.LateSettlement
	var blockHeight sql.NullInt64

	err := row.Scan(&l.Id, &l.PaymentId, &l.LoanId, &l.Kind, &l.Amount, &l.TransactionReference,
		&blockHeight, &l.ObservedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if blockHeight.Valid {
		h := blockHeight.Int64
		l.BlockHeight = &h
	}
	return &l, nil
}

func queryLateSettlements(ctx context.Context, q querier, loanId string) ([]models.LateSettlement, error) {
	rows, err := q.QueryContext(ctx, queryListLateSettlements, loanId)
	if err != nil {
		return nil, fmt.Errorf("failed to query late settlements: %w", err)
	}
	defer closeRows(rows)

	var late []models.LateSettlement
	for rows.Next() {
		l, err := scanLateSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan late settlement: %w", err)
		}
		late = append(late, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating late settlement rows: %w", err)
	}
	return late, nil
}

// ListLateSettlements returns the confirmations recorded against failed
// payments of the loan, oldest first.
func (s *Service) ListLateSettlements(ctx context.Context, loanId string) ([]models.LateSettlement, error) {
	return queryLateSettlements(ctx, s.db, loanId)
}

// ListFailedPayments returns payments failed with reason at or after since
// that have no late settlement recorded yet.
func (s *Service) ListFailedPayments(ctx context.Context, reason string, since time.Time) ([]models.Payment, error) {
	failed, err := queryPayments(ctx, s.db, queryListUnsettledFailures, reason)
	if err != nil {
		return nil, err
	}

	recent := failed[:0]
	for _, p := range failed {
		if p.FailedAt != nil && !p.FailedAt.Before(since) {
			recent = append(recent, p)
		}
	}
	return recent, nil
}

func (t *loanTx) RecordLateSettlement(ctx context.Context, l *models.LateSettlement) error {
	if l.LoanId != t.original.Id {
		return fmt.Errorf("late settlement for loan %s recorded under lock of loan %s", l.LoanId, t.original.Id)
	}
	if !l.Amount.IsPositive() {
		return errs.New(errs.ErrInvalidAmount, "late settlement amount must be positive, got %s", l.Amount)
	}
	if l.Id == "" {
		l.Id = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = t.now()
	}
	if l.ObservedAt.IsZero() {
		l.ObservedAt = l.CreatedAt
	}

	var blockHeight sql.NullInt64
	if l.BlockHeight != nil {
		blockHeight = sql.NullInt64{Int64: *l.BlockHeight, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, queryInsertLateSettlement,
		l.Id, l.PaymentId, l.LoanId, l.Kind, l.Amount, l.TransactionReference, blockHeight,
		l.ObservedAt.UTC(), l.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.ErrDuplicateConfirmation, "late settlement of payment %s already recorded", l.PaymentId)
		}
		return fmt.Errorf("failed to record late settlement: %w", err)
	}

	zap.L().Info("Late settlement recorded",
		zap.String("payment_id", l.PaymentId),
		zap.String("loan_id", l.LoanId),
		zap.String("amount", l.Amount.String()),
		zap.String("transaction_reference", l.TransactionReference))
	return nil
}

func (t *loanTx) LateSettlements(ctx context.Context) ([]models.LateSettlement, error) {
	return queryLateSettlements(ctx, t.tx, t.original.Id)
}
