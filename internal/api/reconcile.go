package api

import (
	"context"
	"fmt"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ReconciliationReport compares the stored balance with the journal and,
// when configured, the external mirror. LateSettlements lists funds that
// moved for payments already failed as timed out.
type ReconciliationReport struct {
	LoanId          string
	StoredBalance   decimal.Decimal
	JournalOK       bool
	MirrorChecked   bool
	MirrorBalance   decimal.Decimal
	LateSettlements []models.LateSettlement
}

// MirrorInSync reports whether the mirror was checked and agrees.
func (r ReconciliationReport) MirrorInSync() bool {
	return r.MirrorChecked && r.MirrorBalance.Equal(r.StoredBalance)
}

// ReconcileLoan verifies the loan against its journal. Mirror drift is
// reported but not treated as an error since the mirror is posted after commit.
// Late settlements are returned in the report along with ErrLateSettlement.
func (s *LoanService) ReconcileLoan(ctx context.Context, loanId string) (*ReconciliationReport, error) {
	loan, err := s.db.GetLoan(ctx, loanId)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{LoanId: loanId, StoredBalance: loan.CurrentBalance}
	late, err := s.db.ListLateSettlements(ctx, loanId)
	if err != nil {
		return nil, err
	}
	report.LateSettlements = late
	lateErr := lateSettlementError(loanId, late)

	if err := s.db.ReconcileLoanBalance(ctx, loanId); err != nil {
		if errs.KindOf(err) != errs.KindConsistencyViolation {
			return nil, err
		}
		return report, multierr.Append(err, lateErr)
	}
	report.JournalOK = true

	if s.mirror == nil {
		return report, lateErr
	}
	mirrored, err := s.mirror.ReceivableBalance(ctx, loan)
	if err != nil {
		zap.L().Warn("Failed to read mirrored receivable",
			zap.String("loan_id", loanId),
			zap.Error(err))
		return report, lateErr
	}
	report.MirrorChecked = true
	report.MirrorBalance = mirrored
	if !report.MirrorInSync() {
		zap.L().Warn("Mirror receivable differs from ledger",
			zap.String("loan_id", loanId),
			zap.String("stored_balance", loan.CurrentBalance.String()),
			zap.String("mirror_balance", mirrored.String()))
	}
	return report, lateErr
}

func lateSettlementError(loanId string, late []models.LateSettlement) error {
	if len(late) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, l := range late {
		zap.L().Warn("Late settlement needs review",
			zap.String("loan_id", loanId),
			zap.String("payment_id", l.PaymentId),
			zap.String("kind", string(l.Kind)),
			zap.String("amount", l.Amount.String()),
			zap.String("transaction_reference", l.TransactionReference))
		total = total.Add(l.Amount)
	}
	return errs.New(errs.ErrLateSettlement, "loan %s has %d late settlement(s) totalling %s held in suspense",
		loanId, len(late), total)
}

// ReconcileAll checks every loan and returns the combined consistency errors.
func (s *LoanService) ReconcileAll(ctx context.Context) ([]ReconciliationReport, error) {
	loans, err := s.db.ListLoans(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	var reports []ReconciliationReport
	var combined error
	for _, loan := range loans {
		report, err := s.ReconcileLoan(ctx, loan.Id)
		combined = multierr.Append(combined, err)
		if report != nil {
			reports = append(reports, *report)
		}
	}
	return reports, combined
}
