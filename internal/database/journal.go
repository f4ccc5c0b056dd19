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
	"mortgage-settlement-go/internal/journal"
	"mortgage-settlement-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// addJournalEntries writes a balanced set of double-entry postings.
func addJournalEntries(ctx context.Context, tx *sql.Tx, loanId string, entries []models.JournalEntry, now time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	if err := journal.Balanced(entries); err != nil {
		return errs.Wrap(errs.ErrLedgerMismatch, err, "loan %s", loanId)
	}

	for i := range entries {
		e := &entries[i]
		if e.LoanId != loanId {
			return fmt.Errorf("journal entry for loan %s posted under loan %s", e.LoanId, loanId)
		}
		if e.Id == "" {
			e.Id = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			e.Id, e.LoanId, nullString(e.PaymentId), e.EntryType, e.AccountType, e.AccountId,
			e.DebitAmount, e.CreditAmount, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to add journal entry: %w", err)
		}
	}
	return nil
}

func (s *Service) GetJournalEntries(ctx context.Context, loanId string) ([]models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetJournalEntries, loanId)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var paymentId sql.NullString
		if err := rows.Scan(&e.Id, &e.LoanId, &paymentId, &e.EntryType, &e.AccountType, &e.AccountId,
			&e.DebitAmount, &e.CreditAmount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.PaymentId = paymentId.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return entries, nil
}

// ReconcileLoanBalance checks the stored balance against the receivable
// account rebuilt from the journal. Loans that were never disbursed carry no
// postings and are skipped.
func (s *Service) ReconcileLoanBalance(ctx context.Context, loanId string) error {
	loan, err := s.GetLoan(ctx, loanId)
	if err != nil {
		return err
	}
	if loan.Status == models.LoanStatusPendingVerification {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, queryGetAccountEntries, journal.AccountLoanReceivable, loanId)
	if err != nil {
		return fmt.Errorf("failed to query receivable entries: %w", err)
	}
	defer closeRows(rows)

	calculated := decimal.Zero
	for rows.Next() {
		var debit, credit decimal.Decimal
		if err := rows.Scan(&debit, &credit); err != nil {
			return fmt.Errorf("failed to scan receivable entry: %w", err)
		}
		calculated = calculated.Add(debit).Sub(credit)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating receivable rows: %w", err)
	}

	if !calculated.Equal(loan.CurrentBalance) {
		zap.L().Error("Loan balance mismatch",
			zap.String("loan_id", loanId),
			zap.String("stored_balance", loan.CurrentBalance.String()),
			zap.String("journal_balance", calculated.String()))
		return errs.New(errs.ErrLedgerMismatch, "loan %s stored %s, journal %s",
			loanId, loan.CurrentBalance, calculated)
	}

	zap.L().Debug("Loan balance reconciled",
		zap.String("loan_id", loanId),
		zap.String("balance", loan.CurrentBalance.String()))
	return nil
}
