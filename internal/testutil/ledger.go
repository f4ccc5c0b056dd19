package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mortgage-settlement-go/internal/database"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

// Epoch is the creation time of loans opened by SeedLoan.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewLedger opens a SQLite ledger in the test's temp dir.
func NewLedger(t testing.TB) *database.Service {
	t.Helper()
	ledger, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(ledger.Close)
	return ledger
}

// SeedLoan registers a borrower and opens a pending USDC loan on ethereum.
func SeedLoan(t testing.TB, ledger store.LedgerStore, email, principal string) (*models.User, *models.Loan) {
	t.Helper()
	ctx := context.Background()

	user, err := ledger.CreateUser(ctx, store.CreateUserParams{
		ExternalId:    "auth0|" + email,
		Email:         email,
		Name:          email,
		BankId:        "19900101-1234",
		WalletAddress: "0xborrower",
	})
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	loan, err := ledger.CreateLoan(ctx, store.CreateLoanParams{
		UserId:       user.Id,
		Principal:    decimal.RequireFromString(principal),
		InterestRate: decimal.RequireFromString("0.05"),
		TokenSymbol:  "USDC",
		ChainName:    "ethereum",
		Verification: models.VerificationRecord{
			PropertyId: "STOCKHOLM-1:" + email,
			OwnerRef:   "19900101-1234",
			Address:    "Drottninggatan 1",
			Valuation:  decimal.RequireFromString("3500000"),
			Currency:   "SEK",
			Confidence: decimal.RequireFromString("0.9"),
			ValuedAt:   Epoch,
			VerifiedAt: Epoch,
		},
		CreatedAt: Epoch,
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return user, loan
}
