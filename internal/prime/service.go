package prime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/httpclient"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/tokens"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultPortfolioName = "Default Portfolio"

// withdrawal is a blockchain withdrawal out of a Prime wallet.
type withdrawal struct {
	WalletId       string
	Symbol         string
	Amount         string
	Address        string
	NetworkId      string
	NetworkType    string
	IdempotencyKey string
}

// walletTransaction is the subset of a Prime wallet transaction needed to
// settle a payment.
type walletTransaction struct {
	Id             string
	Type           string
	Status         string
	Symbol         string
	Amount         string
	TransactionId  string
	IdempotencyKey string
	Created        time.Time
	Completed      time.Time
}

type transactionsAPI interface {
	CreateWithdrawal(ctx context.Context, w withdrawal) (string, error)
	ListWalletTransactions(ctx context.Context, walletId string, since time.Time) ([]walletTransaction, error)
}

// Service settles transfers through Coinbase Prime wallets. Disbursements
// are wallet withdrawals; statuses are read from the wallet transaction list.
type Service struct {
	api      transactionsAPI
	registry *tokens.Registry
	lookback time.Duration
	now      func() time.Time
}

func NewService(ctx context.Context, cfg models.PrimeConfig, registry *tokens.Registry) (*Service, error) {
	creds, err := LoadCredentials()
	if err != nil {
		return nil, err
	}

	httpClient, err := httpclient.New(60 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	restClient := client.NewRestClient(creds, *httpClient)

	portfolioId := cfg.PortfolioId
	if portfolioId == "" {
		portfolioId, err = findDefaultPortfolio(ctx, portfolios.NewPortfoliosService(restClient))
		if err != nil {
			return nil, err
		}
	}
	zap.L().Info("Using Prime portfolio", zap.String("portfolio_id", portfolioId))

	api := &sdkTransactions{
		svc:         transactions.NewTransactionsService(restClient),
		portfolioId: portfolioId,
	}
	return newService(api, registry, cfg.StatusLookback), nil
}

func newService(api transactionsAPI, registry *tokens.Registry, lookback time.Duration) *Service {
	return &Service{
		api:      api,
		registry: registry,
		lookback: lookback,
		now:      time.Now,
	}
}

// LoadCredentials reads the Prime API key triple from the environment.
func LoadCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func findDefaultPortfolio(ctx context.Context, svc portfolios.PortfoliosService) (string, error) {
	response, err := svc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}
	for _, p := range response.Portfolios {
		if p.Name == defaultPortfolioName {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

// Broadcast withdraws from the token's Prime wallet to the recipient. The
// returned reference is the Prime activity id.
func (s *Service) Broadcast(ctx context.Context, req models.BroadcastRequest) (string, error) {
	token, ok := s.registry.Lookup(req.Token, req.Chain)
	if !ok {
		return "", errs.New(errs.ErrUnsupportedToken, "%s on %s", req.Token, req.Chain)
	}
	if token.WalletId == "" {
		return "", errs.New(errs.ErrUnsupportedToken, "no Prime wallet configured for %s on %s", req.Token, req.Chain)
	}
	chain, _ := s.registry.Chain(req.Chain)

	w := withdrawal{
		WalletId:       token.WalletId,
		Symbol:         strings.ToUpper(token.Symbol),
		Amount:         req.Amount.StringFixed(token.Decimals),
		Address:        req.Recipient,
		NetworkId:      chain.Name,
		NetworkType:    chain.NetworkType,
		IdempotencyKey: req.IdempotencyKey,
	}

	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("wallet_id", w.WalletId),
		zap.String("symbol", w.Symbol),
		zap.String("amount", w.Amount),
		zap.String("destination", w.Address),
		zap.String("idempotency_key", w.IdempotencyKey))

	activityId, err := s.api.CreateWithdrawal(ctx, w)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", w.WalletId),
			zap.String("amount", w.Amount),
			zap.Error(err))
		return "", errs.Wrap(errs.ErrBroadcastFailed, err, "prime withdrawal %s", req.IdempotencyKey)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("activity_id", activityId),
		zap.String("idempotency_key", w.IdempotencyKey))
	return activityId, nil
}

// GetStatus scans the configured wallets for a transaction matching the
// reference or idempotency key. Unknown transfers are reported pending.
func (s *Service) GetStatus(ctx context.Context, reference, idempotencyKey string) (*models.ChainStatus, error) {
	since := s.now().Add(-s.lookback)

	for _, walletId := range s.registry.WalletIds() {
		txs, err := s.api.ListWalletTransactions(ctx, walletId, since)
		if err != nil {
			return nil, errs.Wrap(errs.ErrBroadcastFailed, err, "list transactions of wallet %s", walletId)
		}
		for _, tx := range txs {
			if matches(tx, reference, idempotencyKey) {
				return statusOf(tx, reference), nil
			}
		}
	}

	zap.L().Debug("Transfer not visible in Prime yet",
		zap.String("transaction_reference", reference),
		zap.String("idempotency_key", idempotencyKey))
	return &models.ChainStatus{State: models.ChainStatePending, ObservedAt: s.now().UTC()}, nil
}

func matches(tx walletTransaction, reference, idempotencyKey string) bool {
	if reference != "" && (tx.Id == reference || tx.TransactionId == reference) {
		return true
	}
	return idempotencyKey != "" && tx.IdempotencyKey == idempotencyKey
}

var failedStatuses = map[string]bool{
	"TRANSACTION_CANCELLED": true,
	"TRANSACTION_REJECTED":  true,
	"TRANSACTION_FAILED":    true,
	"TRANSACTION_EXPIRED":   true,
}

func statusOf(tx walletTransaction, reference string) *models.ChainStatus {
	status := &models.ChainStatus{State: models.ChainStatePending, ObservedAt: tx.Created}

	switch {
	case tx.Status == "TRANSACTION_DONE" || tx.Status == "TRANSACTION_IMPORTED":
		status.State = models.ChainStateConfirmed
		status.ObservedAt = tx.Completed
	case failedStatuses[tx.Status]:
		status.State = models.ChainStateFailed
		status.Reason = strings.ToLower(strings.TrimPrefix(tx.Status, "TRANSACTION_"))
		status.ObservedAt = tx.Completed
	}

	if reference == "" {
		status.Reference = tx.Id
	}
	if amount, err := decimal.NewFromString(tx.Amount); err == nil {
		status.Amount = decimal.NewNullDecimal(amount.Abs())
	}
	status.Symbol = strings.ToUpper(tx.Symbol)
	return status
}

// sdkTransactions adapts the Prime SDK transactions service.
type sdkTransactions struct {
	svc         transactions.TransactionsService
	portfolioId string
}

func (s *sdkTransactions) CreateWithdrawal(ctx context.Context, w withdrawal) (string, error) {
	blockchainAddr := &model.BlockchainAddress{Address: w.Address}
	if w.NetworkId != "" && w.NetworkType != "" {
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   w.NetworkId,
			Type: w.NetworkType,
		}
	}

	response, err := s.svc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       s.portfolioId,
		SourceWalletId:    w.WalletId,
		Amount:            w.Amount,
		IdempotencyKey:    w.IdempotencyKey,
		Symbol:            w.Symbol,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}
	return response.ActivityId, nil
}

func (s *sdkTransactions) ListWalletTransactions(ctx context.Context, walletId string, since time.Time) ([]walletTransaction, error) {
	response, err := s.svc.ListWalletTransactions(ctx, &transactions.ListWalletTransactionsRequest{
		PortfolioId: s.portfolioId,
		WalletId:    walletId,
		Start:       since,
		Types:       []string{"WITHDRAWAL", "DEPOSIT"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	txs := make([]walletTransaction, 0, len(response.Transactions))
	for _, tx := range response.Transactions {
		txs = append(txs, walletTransaction{
			Id:             tx.Id,
			Type:           tx.Type,
			Status:         tx.Status,
			Symbol:         tx.Symbol,
			Amount:         tx.Amount,
			TransactionId:  tx.TransactionId,
			IdempotencyKey: tx.IdempotencyKey,
			Created:        tx.Created,
			Completed:      tx.Completed,
		})
	}

	zap.L().Debug("Prime API response received",
		zap.String("wallet_id", walletId),
		zap.Int("count", len(txs)))
	return txs, nil
}
