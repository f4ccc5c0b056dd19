package providers

import (
	"context"
	"fmt"
	"net/http"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
)

// DeedClient mints the soulbound mortgage deed for an active loan.
type DeedClient struct {
	c *client
}

func NewDeedClient(baseURL, apiKey string, httpClient *http.Client) (*DeedClient, error) {
	c, err := newClient(baseURL, apiKey, httpClient, errs.ErrBroadcastFailed)
	if err != nil {
		return nil, err
	}
	return &DeedClient{c: c}, nil
}

type mintRequest struct {
	LoanId          string `json:"loan_id"`
	PropertyId      string `json:"property_id"`
	OwnerAddress    string `json:"owner_address"`
	Chain           string `json:"chain"`
	Principal       string `json:"principal"`
	Token           string `json:"token"`
	PropertyValue   string `json:"property_value"`
	PropertyAddress string `json:"property_address"`
}

func (d *DeedClient) MintDeed(ctx context.Context, user *models.User, loan *models.Loan) (*models.Deed, error) {
	if user.WalletAddress == "" {
		return nil, errs.New(errs.ErrWalletNotLinked, "user %s", user.Id)
	}

	req := mintRequest{
		LoanId:          loan.Id,
		PropertyId:      loan.PropertyId,
		OwnerAddress:    user.WalletAddress,
		Chain:           loan.ChainName,
		Principal:       loan.Principal.String(),
		Token:           loan.TokenSymbol,
		PropertyValue:   user.PropertyValue.Decimal.String(),
		PropertyAddress: user.PropertyAddress,
	}

	var deed models.Deed
	if err := d.c.do(ctx, http.MethodPost, "/v1/deeds", req, &deed); err != nil {
		return nil, fmt.Errorf("unable to mint deed for loan %s: %w", loan.Id, err)
	}
	if deed.ContractAddress == "" || deed.TokenId == "" {
		return nil, fmt.Errorf("deed provider returned an incomplete deed for loan %s", loan.Id)
	}
	return &deed, nil
}
