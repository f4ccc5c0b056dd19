package store

import (
	"context"
	"time"

	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// CreateUserParams contains the parameters for registering a borrower.
type CreateUserParams struct {
	ExternalId    string
	Email         string
	Name          string
	BankId        string
	WalletAddress string
}

// CreateLoanParams opens a loan in pending_verification and folds the
// verification snapshot into the borrower's row in the same transaction.
type CreateLoanParams struct {
	UserId       string
	Principal    decimal.Decimal
	InterestRate decimal.Decimal
	TokenSymbol  string
	ChainName    string
	Verification models.VerificationRecord
	CreatedAt    time.Time
}

// LoanTx is the view of the ledger handed to a WithLoanLock callback. All
// calls run in one SQL transaction that commits when the callback returns nil.
type LoanTx interface {
	// Loan returns the loan row read under the lock. Mutate it and call SaveLoan.
	Loan() *models.Loan
	SaveLoan(ctx context.Context, loan *models.Loan) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentId string) (*models.Payment, error)
	// GetPaymentByIdempotencyKey returns nil, nil when no payment uses the key.
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	Payments(ctx context.Context) ([]models.Payment, error)
	// UpdatePaymentSettlement moves a pending payment to confirmed or failed.
	UpdatePaymentSettlement(ctx context.Context, payment *models.Payment) error
	PendingRepaymentTotal(ctx context.Context) (decimal.Decimal, error)
	// RecordLateSettlement notes funds confirmed for a failed payment. A
	// second record for the same payment returns ErrDuplicateConfirmation.
	RecordLateSettlement(ctx context.Context, late *models.LateSettlement) error
	LateSettlements(ctx context.Context) ([]models.LateSettlement, error)

	AddJournalEntries(ctx context.Context, entries []models.JournalEntry) error
}

// LedgerStore defines the contract a ledger backend must satisfy.
type LedgerStore interface {
	// --- Users ---
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByExternalId(ctx context.Context, externalId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	LinkWallet(ctx context.Context, userId, walletAddress string) error
	RecordDeed(ctx context.Context, userId string, deed models.Deed) error

	// --- Loans ---
	CreateLoan(ctx context.Context, params CreateLoanParams) (*models.Loan, error)
	GetLoan(ctx context.Context, loanId string) (*models.Loan, error)
	// ListLoans returns every loan when status is empty.
	ListLoans(ctx context.Context, status models.LoanStatus) ([]models.Loan, error)
	ListLoansByUser(ctx context.Context, userId string) ([]models.Loan, error)
	// WithLoanLock serializes fn against every other mutation of the loan.
	WithLoanLock(ctx context.Context, loanId string, fn func(tx LoanTx) error) error

	// --- Payments ---
	GetPayment(ctx context.Context, paymentId string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListPayments(ctx context.Context, loanId string) ([]models.Payment, error)
	ListPendingPayments(ctx context.Context) ([]models.Payment, error)
	// SetPaymentReference records the broadcast reference once; a second
	// call with the same reference is a no-op.
	SetPaymentReference(ctx context.Context, paymentId, reference string) error
	// ListFailedPayments returns payments failed with reason since the given
	// time that have no late settlement recorded.
	ListFailedPayments(ctx context.Context, reason string, since time.Time) ([]models.Payment, error)
	ListLateSettlements(ctx context.Context, loanId string) ([]models.LateSettlement, error)

	// --- Journal ---
	GetJournalEntries(ctx context.Context, loanId string) ([]models.JournalEntry, error)
	ReconcileLoanBalance(ctx context.Context, loanId string) error

	// --- Lifecycle ---
	Close()
}
