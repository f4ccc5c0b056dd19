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
	"mortgage-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var lastPaymentAt, activatedAt, closedAt sql.NullTime

	err := row.Scan(&loan.Id, &loan.UserId, &loan.PropertyId, &loan.Principal, &loan.CurrentBalance,
		&loan.InterestRate, &loan.TokenSymbol, &loan.ChainName, &loan.Status, &loan.LastAccrualAt,
		&lastPaymentAt, &activatedAt, &closedAt, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}

	loan.LastPaymentAt = timePtr(lastPaymentAt)
	loan.ActivatedAt = timePtr(activatedAt)
	loan.ClosedAt = timePtr(closedAt)
	return &loan, nil
}

// CreateLoan writes the verification snapshot onto the borrower and opens the
// loan in one transaction, so neither exists without the other.
func (s *Service) CreateLoan(ctx context.Context, params store.CreateLoanParams) (*models.Loan, error) {
	if !params.Principal.IsPositive() {
		return nil, errs.New(errs.ErrInvalidAmount, "principal must be positive, got %s", params.Principal)
	}
	v := params.Verification
	if v.PropertyId == "" || v.Valuation.IsZero() {
		return nil, errs.New(errs.ErrInvalidRequest, "verification snapshot is incomplete")
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	createdAt = createdAt.UTC()
	loanId := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryRecordVerification,
		v.PropertyId, v.Address, v.Valuation, v.Currency, v.Confidence, v.VerifiedAt.UTC(),
		v.RegistrySnapshot, createdAt, params.UserId)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.ErrPropertyEncumbered, "property %s is registered to another borrower", v.PropertyId)
		}
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, errs.New(errs.ErrUserNotFound, "user %s", params.UserId)
	}

	_, err = tx.ExecContext(ctx, queryInsertLoan,
		loanId, params.UserId, v.PropertyId, params.Principal, params.Principal, params.InterestRate,
		params.TokenSymbol, params.ChainName, models.LoanStatusPendingVerification, createdAt,
		createdAt, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.ErrPropertyEncumbered, "property %s already backs an open loan", v.PropertyId)
		}
		return nil, fmt.Errorf("failed to insert loan: %w", err)
	}

	loan, err := scanLoan(tx.QueryRowContext(ctx, queryGetLoan, loanId))
	if err != nil {
		return nil, fmt.Errorf("failed to read created loan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Loan created",
		zap.String("loan_id", loan.Id),
		zap.String("user_id", loan.UserId),
		zap.String("property_id", loan.PropertyId),
		zap.String("principal", loan.Principal.String()),
		zap.String("token", loan.TokenSymbol),
		zap.String("chain", loan.ChainName))

	return loan, nil
}

func (s *Service) GetLoan(ctx context.Context, loanId string) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, queryGetLoan, loanId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrLoanNotFound, "loan %s", loanId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func (s *Service) ListLoans(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	if status == "" {
		return s.queryLoans(ctx, queryListLoans)
	}
	return s.queryLoans(ctx, queryListLoansByStatus, status)
}

func (s *Service) ListLoansByUser(ctx context.Context, userId string) ([]models.Loan, error) {
	return s.queryLoans(ctx, queryListLoansByUser, userId)
}

func (s *Service) queryLoans(ctx context.Context, query string, args ...any) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer closeRows(rows)

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loan rows: %w", err)
	}
	return loans, nil
}
