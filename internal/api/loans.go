package api

import (
	"context"
	"fmt"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"go.uber.org/zap"
)

// GetLoanSummary returns a loan with its full payment history
func (s *LoanService) GetLoanSummary(ctx context.Context, loanId string) (*models.LoanSummary, error) {
	if loanId == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "loan_id is required")
	}

	loan, err := s.db.GetLoan(ctx, loanId)
	if err != nil {
		return nil, err
	}

	payments, err := s.db.ListPayments(ctx, loanId)
	if err != nil {
		zap.L().Error("Failed to list payments", zap.String("loan_id", loanId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve payments: %w", err)
	}

	summary := toSummary(loan)
	summary.Payments = make([]models.PaymentRecord, len(payments))
	for i := range payments {
		summary.Payments[i] = toRecord(&payments[i])
	}
	return &summary, nil
}

// ListLoans returns summaries without payment history. An empty status
// lists every loan.
func (s *LoanService) ListLoans(ctx context.Context, status models.LoanStatus) ([]models.LoanSummary, error) {
	loans, err := s.db.ListLoans(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return toSummaries(loans), nil
}

// GetUserLoans looks the borrower up by email and returns their loans
func (s *LoanService) GetUserLoans(ctx context.Context, email string) (*models.User, []models.LoanSummary, error) {
	if email == "" {
		return nil, nil, errs.New(errs.ErrInvalidRequest, "email is required")
	}
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	loans, err := s.db.ListLoansByUser(ctx, user.Id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list loans for user %s: %w", user.Id, err)
	}
	return user, toSummaries(loans), nil
}

func (s *LoanService) GetJournal(ctx context.Context, loanId string) ([]models.JournalEntry, error) {
	if _, err := s.db.GetLoan(ctx, loanId); err != nil {
		return nil, err
	}
	return s.db.GetJournalEntries(ctx, loanId)
}

func toSummaries(loans []models.Loan) []models.LoanSummary {
	result := make([]models.LoanSummary, len(loans))
	for i := range loans {
		result[i] = toSummary(&loans[i])
	}
	return result
}

func toSummary(loan *models.Loan) models.LoanSummary {
	return models.LoanSummary{
		Id:             loan.Id,
		UserId:         loan.UserId,
		PropertyId:     loan.PropertyId,
		Status:         loan.Status,
		Principal:      loan.Principal,
		CurrentBalance: loan.CurrentBalance,
		InterestRate:   loan.InterestRate,
		Token:          loan.TokenSymbol,
		Chain:          loan.ChainName,
		LastAccrualAt:  loan.LastAccrualAt,
		ActivatedAt:    loan.ActivatedAt,
		ClosedAt:       loan.ClosedAt,
	}
}

func toRecord(p *models.Payment) models.PaymentRecord {
	record := models.PaymentRecord{
		Id:                   p.Id,
		Kind:                 p.Kind,
		Amount:               p.Amount,
		Status:               p.Status,
		TransactionReference: p.TransactionReference,
		BlockHeight:          p.BlockHeight,
		FailureReason:        p.FailureReason,
		CreatedAt:            p.CreatedAt,
		ConfirmedAt:          p.ConfirmedAt,
	}
	if p.AppliedAmount.Valid {
		record.AppliedAmount = p.AppliedAmount.Decimal.String()
	}
	return record
}
