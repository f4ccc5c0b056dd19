package settlement

import (
	"context"
	"time"

	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// FailureTimedOut is recorded on payments that saw no finality inside the
// confirmation window.
const FailureTimedOut = "settlement_timed_out"

// FailureTransferMismatch prefixes the reason of payments whose confirmed
// transfer moved another amount or token than the payment records.
const FailureTransferMismatch = "transfer_mismatch"

// DefaultLateConfirmationWindow is how long timed-out payments keep being
// polled for a confirmation that arrives after all.
const DefaultLateConfirmationWindow = 24 * time.Hour

// ChainProvider broadcasts transfers and reports their status. GetStatus
// matches on either the transfer reference or the idempotency key it was
// broadcast under; reference is empty when none has been recorded yet.
type ChainProvider interface {
	Broadcast(ctx context.Context, req models.BroadcastRequest) (string, error)
	GetStatus(ctx context.Context, reference, idempotencyKey string) (*models.ChainStatus, error)
}

// Observer is told about loan transitions after they commit.
type Observer interface {
	LoanActivated(ctx context.Context, loan *models.Loan, payment *models.Payment)
	LoanPaidOff(ctx context.Context, loan *models.Loan, payment *models.Payment)
}

// Mirror receives the journal entries of every committed settlement.
type Mirror interface {
	Post(ctx context.Context, loan *models.Loan, reference string, entries []models.JournalEntry, at time.Time) error
}

type TransferRequest struct {
	LoanId    string
	IntentId  string
	Kind      models.PaymentKind
	Amount    decimal.Decimal
	Token     string
	Chain     string
	Recipient string
	// TransactionReference is set when the transfer was already broadcast
	// by the borrower; nothing is sent in that case.
	TransactionReference string
}

func IdempotencyKey(loanId, intentId string) string {
	return loanId + ":" + intentId
}
