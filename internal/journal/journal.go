package journal

import (
	"fmt"
	"strings"

	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	EntryDisbursement   = "disbursement"
	EntryAccrual        = "accrual"
	EntryRepayment      = "repayment"
	EntryLateSettlement = "late_settlement"
)

// Account types. Receivable and unapplied accounts are keyed by loan id,
// treasury and income by asset (SYMBOL-chain).
const (
	AccountLoanReceivable = "loan_receivable"
	AccountTreasury       = "treasury"
	AccountInterestIncome = "interest_income"
	AccountUnapplied      = "unapplied_receipts"
	AccountSuspense       = "settlement_suspense"
)

func Asset(token, chain string) string {
	return strings.ToUpper(token) + "-" + strings.ToLower(chain)
}

func entry(loan *models.Loan, paymentId, entryType, accountType, accountId string, debit, credit decimal.Decimal) models.JournalEntry {
	return models.JournalEntry{
		LoanId:       loan.Id,
		PaymentId:    paymentId,
		EntryType:    entryType,
		AccountType:  accountType,
		AccountId:    accountId,
		DebitAmount:  debit,
		CreditAmount: credit,
	}
}

// Disbursement books the principal as owed by the borrower and paid out of
// the treasury.
func Disbursement(loan *models.Loan, paymentId string, amount decimal.Decimal) []models.JournalEntry {
	asset := Asset(loan.TokenSymbol, loan.ChainName)
	return []models.JournalEntry{
		entry(loan, paymentId, EntryDisbursement, AccountLoanReceivable, loan.Id, amount, decimal.Zero),
		entry(loan, paymentId, EntryDisbursement, AccountTreasury, asset, decimal.Zero, amount),
	}
}

func Accrual(loan *models.Loan, interest decimal.Decimal) []models.JournalEntry {
	if !interest.IsPositive() {
		return nil
	}
	asset := Asset(loan.TokenSymbol, loan.ChainName)
	return []models.JournalEntry{
		entry(loan, "", EntryAccrual, AccountLoanReceivable, loan.Id, interest, decimal.Zero),
		entry(loan, "", EntryAccrual, AccountInterestIncome, asset, decimal.Zero, interest),
	}
}

// Repayment books a received transfer. Whatever exceeds the applied amount
// is parked in the loan's unapplied receipts for manual review.
func Repayment(loan *models.Loan, paymentId string, received, applied decimal.Decimal) []models.JournalEntry {
	asset := Asset(loan.TokenSymbol, loan.ChainName)
	entries := []models.JournalEntry{
		entry(loan, paymentId, EntryRepayment, AccountTreasury, asset, received, decimal.Zero),
	}
	if applied.IsPositive() {
		entries = append(entries, entry(loan, paymentId, EntryRepayment, AccountLoanReceivable, loan.Id, decimal.Zero, applied))
	}
	if excess := received.Sub(applied); excess.IsPositive() {
		entries = append(entries, entry(loan, paymentId, EntryRepayment, AccountUnapplied, loan.Id, decimal.Zero, excess))
	}
	return entries
}

// LateSettlement books funds that moved for a payment already failed as
// timed out. The loan balance is left alone; the amount sits in the loan's
// suspense account until an operator resolves it.
func LateSettlement(loan *models.Loan, paymentId string, kind models.PaymentKind, amount decimal.Decimal) []models.JournalEntry {
	asset := Asset(loan.TokenSymbol, loan.ChainName)
	if kind == models.PaymentKindDisbursement {
		return []models.JournalEntry{
			entry(loan, paymentId, EntryLateSettlement, AccountSuspense, loan.Id, amount, decimal.Zero),
			entry(loan, paymentId, EntryLateSettlement, AccountTreasury, asset, decimal.Zero, amount),
		}
	}
	return []models.JournalEntry{
		entry(loan, paymentId, EntryLateSettlement, AccountTreasury, asset, amount, decimal.Zero),
		entry(loan, paymentId, EntryLateSettlement, AccountSuspense, loan.Id, decimal.Zero, amount),
	}
}

// Balanced checks that debits equal credits and no side is negative.
func Balanced(entries []models.JournalEntry) error {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.DebitAmount.IsNegative() || e.CreditAmount.IsNegative() {
			return fmt.Errorf("negative amount on %s/%s", e.AccountType, e.AccountId)
		}
		debits = debits.Add(e.DebitAmount)
		credits = credits.Add(e.CreditAmount)
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("unbalanced entries: debits %s, credits %s", debits, credits)
	}
	return nil
}

// ReceivableBalance nets the loan receivable account over entries.
func ReceivableBalance(entries []models.JournalEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		if e.AccountType == AccountLoanReceivable {
			balance = balance.Add(e.DebitAmount).Sub(e.CreditAmount)
		}
	}
	return balance
}
