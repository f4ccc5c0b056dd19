package lifecycle

import (
	"context"

	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"go.uber.org/zap"
)

type DeedMinter interface {
	MintDeed(ctx context.Context, user *models.User, loan *models.Loan) (*models.Deed, error)
}

// DeedObserver mints the mortgage deed to the borrower once a loan is
// active. Minting failures are logged and never affect the loan.
type DeedObserver struct {
	store  store.LedgerStore
	minter DeedMinter
}

func NewDeedObserver(ledger store.LedgerStore, minter DeedMinter) *DeedObserver {
	return &DeedObserver{store: ledger, minter: minter}
}

func (d *DeedObserver) LoanActivated(ctx context.Context, loan *models.Loan, payment *models.Payment) {
	zap.L().Info("Loan activated",
		zap.String("loan_id", loan.Id),
		zap.String("payment_id", payment.Id),
		zap.String("balance", loan.CurrentBalance.String()))

	if d.minter == nil {
		return
	}

	user, err := d.store.GetUserById(ctx, loan.UserId)
	if err != nil {
		zap.L().Error("Cannot mint deed, borrower lookup failed", zap.String("loan_id", loan.Id), zap.Error(err))
		return
	}
	if user.DeedTokenId != "" {
		return
	}

	deed, err := d.minter.MintDeed(ctx, user, loan)
	if err != nil {
		zap.L().Error("Deed minting failed, loan stays active",
			zap.String("loan_id", loan.Id),
			zap.String("user_id", user.Id),
			zap.Error(err))
		return
	}
	if err := d.store.RecordDeed(ctx, user.Id, *deed); err != nil {
		zap.L().Error("Failed to record minted deed",
			zap.String("loan_id", loan.Id),
			zap.String("token_id", deed.TokenId),
			zap.Error(err))
		return
	}

	zap.L().Info("Deed minted",
		zap.String("loan_id", loan.Id),
		zap.String("contract_address", deed.ContractAddress),
		zap.String("token_id", deed.TokenId))
}

func (d *DeedObserver) LoanPaidOff(_ context.Context, loan *models.Loan, payment *models.Payment) {
	zap.L().Info("Loan paid off",
		zap.String("loan_id", loan.Id),
		zap.String("payment_id", payment.Id))
}
