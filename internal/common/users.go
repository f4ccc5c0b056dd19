package common

import (
	"context"
	"fmt"

	"mortgage-settlement-go/internal/store"

	"go.uber.org/zap"
)

// UserInfo represents simplified user information for command-line utilities
type UserInfo struct {
	Id               string
	Name             string
	Email            string
	WalletAddress    string
	PropertyId       string
	PropertyVerified bool
}

// InitializeUsers returns the borrower with the given email, or every
// borrower when emailFilter is empty.
func InitializeUsers(ctx context.Context, ledger store.LedgerStore, emailFilter string) ([]UserInfo, error) {
	var users []UserInfo

	if emailFilter != "" {
		zap.L().Info("Looking up user by email", zap.String("email", emailFilter))
		u, err := ledger.GetUserByEmail(ctx, emailFilter)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		users = append(users, UserInfo{
			Id:               u.Id,
			Name:             u.Name,
			Email:            u.Email,
			WalletAddress:    u.WalletAddress,
			PropertyId:       u.PropertyId,
			PropertyVerified: u.PropertyVerified,
		})
	} else {
		all, err := ledger.GetUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}
		for _, u := range all {
			users = append(users, UserInfo{
				Id:               u.Id,
				Name:             u.Name,
				Email:            u.Email,
				WalletAddress:    u.WalletAddress,
				PropertyId:       u.PropertyId,
				PropertyVerified: u.PropertyVerified,
			})
		}
	}

	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
