package formance

import (
	"context"
	"fmt"
	"math/big"

	"mortgage-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReceivableBalance returns the mirrored receivable of a loan. It should
// equal the loan's current balance once every settlement has been posted.
func (s *Service) ReceivableBalance(ctx context.Context, loan *models.Loan) (decimal.Decimal, error) {
	address := "loans:" + segment(loan.Id) + ":receivable"

	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get account %s: %w", address, err)
	}

	decimals, ok := s.precision.Decimals(loan.TokenSymbol, loan.ChainName)
	if !ok {
		decimals = 6
	}
	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, s.asset(loan))
	zap.L().Debug("Mirrored receivable",
		zap.String("loan_id", loan.Id),
		zap.String("address", address))
	return bigIntToDecimal(bal, decimals), nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a decimal.
func bigIntToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
