package prime

import (
	"context"
	"errors"
	"testing"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/tokens"

	"github.com/shopspring/decimal"
)

const testTokens = `
chains:
  - name: ethereum
    chain_id: 1
    network_type: mainnet
    treasury_address: "0xtreasury"
    tokens:
      - symbol: USDC
        address: "0xusdc"
        decimals: 6
        prime_wallet_id: wallet-usdc
      - symbol: DAI
        address: "0xdai"
        decimals: 18
`

type fakeAPI struct {
	withdrawals []withdrawal
	txs         map[string][]walletTransaction
	err         error
}

func (f *fakeAPI) CreateWithdrawal(_ context.Context, w withdrawal) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.withdrawals = append(f.withdrawals, w)
	return "activity-1", nil
}

func (f *fakeAPI) ListWalletTransactions(_ context.Context, walletId string, _ time.Time) ([]walletTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[walletId], nil
}

func newTestService(t *testing.T, api *fakeAPI) *Service {
	t.Helper()
	registry, err := tokens.Parse([]byte(testTokens))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return newService(api, registry, 6*time.Hour)
}

func TestBroadcastCreatesWithdrawal(t *testing.T) {
	api := &fakeAPI{}
	s := newTestService(t, api)

	ref, err := s.Broadcast(context.Background(), models.BroadcastRequest{
		Amount:         decimal.RequireFromString("1500.5"),
		Token:          "usdc",
		Chain:          "ethereum",
		Recipient:      "0xborrower",
		IdempotencyKey: "payment-1",
	})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if ref != "activity-1" {
		t.Errorf("reference = %q, want activity-1", ref)
	}
	if len(api.withdrawals) != 1 {
		t.Fatalf("withdrawals = %d, want 1", len(api.withdrawals))
	}

	w := api.withdrawals[0]
	want := withdrawal{
		WalletId:       "wallet-usdc",
		Symbol:         "USDC",
		Amount:         "1500.500000",
		Address:        "0xborrower",
		NetworkId:      "ethereum",
		NetworkType:    "mainnet",
		IdempotencyKey: "payment-1",
	}
	if w != want {
		t.Errorf("withdrawal = %+v, want %+v", w, want)
	}
}

func TestBroadcastErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
		api   *fakeAPI
		want  error
	}{
		{"unsupported token", "DOGE", &fakeAPI{}, errs.ErrUnsupportedToken},
		{"no wallet configured", "DAI", &fakeAPI{}, errs.ErrUnsupportedToken},
		{"api failure", "USDC", &fakeAPI{err: errors.New("503")}, errs.ErrBroadcastFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, tt.api)
			_, err := s.Broadcast(context.Background(), models.BroadcastRequest{
				Amount: decimal.NewFromInt(1), Token: tt.token, Chain: "ethereum",
				Recipient: "0xborrower", IdempotencyKey: "k",
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	api := &fakeAPI{txs: map[string][]walletTransaction{
		"wallet-usdc": {
			{Id: "tx-done", Status: "TRANSACTION_DONE", IdempotencyKey: "payment-done", TransactionId: "0xhash"},
			{Id: "tx-rejected", Status: "TRANSACTION_REJECTED", IdempotencyKey: "payment-rejected"},
			{Id: "tx-pending", Status: "TRANSACTION_BROADCASTING", IdempotencyKey: "payment-pending"},
		},
	}}
	s := newTestService(t, api)

	tests := []struct {
		name      string
		reference string
		key       string
		state     models.ChainState
		backfill  string
	}{
		{"done by key", "", "payment-done", models.ChainStateConfirmed, "tx-done"},
		{"done by hash", "0xhash", "", models.ChainStateConfirmed, ""},
		{"rejected", "tx-rejected", "", models.ChainStateFailed, ""},
		{"in flight", "", "payment-pending", models.ChainStatePending, "tx-pending"},
		{"unknown", "activity-9", "payment-9", models.ChainStatePending, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := s.GetStatus(context.Background(), tt.reference, tt.key)
			if err != nil {
				t.Fatalf("GetStatus() error = %v", err)
			}
			if status.State != tt.state {
				t.Errorf("State = %s, want %s", status.State, tt.state)
			}
			if status.Reference != tt.backfill {
				t.Errorf("Reference = %q, want %q", status.Reference, tt.backfill)
			}
		})
	}

	status, _ := s.GetStatus(context.Background(), "tx-rejected", "")
	if status.Reason != "rejected" {
		t.Errorf("Reason = %q, want rejected", status.Reason)
	}
}

func TestGetStatusReportsObservedTransfer(t *testing.T) {
	api := &fakeAPI{txs: map[string][]walletTransaction{
		"wallet-usdc": {
			{Id: "tx-short", Status: "TRANSACTION_DONE", Symbol: "usdc", Amount: "-1499.5", IdempotencyKey: "payment-short"},
			{Id: "tx-bare", Status: "TRANSACTION_DONE", IdempotencyKey: "payment-bare"},
		},
	}}
	s := newTestService(t, api)

	status, err := s.GetStatus(context.Background(), "tx-short", "")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.Amount.Valid || !status.Amount.Decimal.Equal(decimal.RequireFromString("1499.5")) {
		t.Errorf("Amount = %v, want 1499.5", status.Amount)
	}
	if status.Symbol != "USDC" {
		t.Errorf("Symbol = %q, want USDC", status.Symbol)
	}

	status, err = s.GetStatus(context.Background(), "tx-bare", "")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Amount.Valid || status.Symbol != "" {
		t.Errorf("status = %+v, want no observed amount or symbol", status)
	}
}

func TestGetStatusListFailureIsTransient(t *testing.T) {
	s := newTestService(t, &fakeAPI{err: errors.New("timeout")})
	_, err := s.GetStatus(context.Background(), "ref", "key")
	if !errs.IsRetryable(err) {
		t.Errorf("error = %v, want transient", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("PRIME_ACCESS_KEY", "access")
	t.Setenv("PRIME_PASSPHRASE", "")
	t.Setenv("PRIME_SIGNING_KEY", "signing")
	if _, err := LoadCredentials(); err == nil {
		t.Error("expected error for missing passphrase")
	}

	t.Setenv("PRIME_PASSPHRASE", "pass")
	creds, err := LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.AccessKey != "access" || creds.Passphrase != "pass" || creds.SigningKey != "signing" {
		t.Errorf("credentials = %+v", creds)
	}
}
