package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestRegistryCheckOwnership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/ownership/verify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req ownershipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		switch req.PropertyId {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		case "flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"verified":       req.OwnerRef == "19900101-1234",
				"address":        "Drottninggatan 1, Stockholm",
				"property_type":  "villa",
				"size_sqm":       120,
				"valuation_hint": "3400000",
			})
		}
	}))
	defer srv.Close()

	reg, err := NewRegistryClient(srv.URL, "secret", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	check, err := reg.CheckOwnership(ctx, "STHLM-1:1", "19900101-1234")
	if err != nil {
		t.Fatalf("CheckOwnership() error = %v", err)
	}
	if !check.Verified || check.PropertyId != "STHLM-1:1" || check.SizeSqm != 120 {
		t.Errorf("unexpected check %+v", check)
	}
	if !check.ValuationHint.Valid || !check.ValuationHint.Decimal.Equal(decimal.NewFromInt(3400000)) {
		t.Errorf("valuation hint = %v", check.ValuationHint)
	}

	check, err = reg.CheckOwnership(ctx, "STHLM-1:1", "someone-else")
	if err != nil || check.Verified {
		t.Errorf("wrong owner = %+v, %v; want verified=false", check, err)
	}

	check, err = reg.CheckOwnership(ctx, "missing", "19900101-1234")
	if err != nil || check.Verified {
		t.Errorf("missing property = %+v, %v; want verified=false", check, err)
	}

	_, err = reg.CheckOwnership(ctx, "flaky", "19900101-1234")
	if !errors.Is(err, errs.ErrRegistryUnreachable) || !errs.IsRetryable(err) {
		t.Errorf("503 error = %v, want retryable ErrRegistryUnreachable", err)
	}
}

func TestRegistryUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	reg, err := NewRegistryClient(url, "", &http.Client{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CheckOwnership(context.Background(), "p", "o"); !errors.Is(err, errs.ErrRegistryUnreachable) {
		t.Errorf("error = %v, want ErrRegistryUnreachable", err)
	}
}

func TestOracleGetValuation(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/valuations/STHLM-1:1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("address") != "Drottninggatan 1" {
			t.Errorf("address = %q", r.URL.Query().Get("address"))
		}
		_ = json.NewEncoder(w).Encode(models.Valuation{
			Value:      decimal.NewFromInt(3500000),
			Confidence: decimal.RequireFromString("0.92"),
			Timestamp:  ts,
		})
	}))
	defer srv.Close()

	oracle, err := NewOracleClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	v, err := oracle.GetValuation(context.Background(), "STHLM-1:1", "Drottninggatan 1")
	if err != nil {
		t.Fatalf("GetValuation() error = %v", err)
	}
	if !v.Value.Equal(decimal.NewFromInt(3500000)) || v.Currency != "SEK" || !v.Timestamp.Equal(ts) {
		t.Errorf("unexpected valuation %+v", v)
	}

	_, err = oracle.GetValuation(context.Background(), "other", "")
	if !errors.Is(err, errs.ErrInvalidRequest) || errs.IsRetryable(err) {
		t.Errorf("400 error = %v, want non-retryable invalid request", err)
	}
}

func TestDeedMint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.OwnerAddress != "0xborrower" || req.LoanId != "loan-1" {
			t.Errorf("unexpected mint request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(models.Deed{ContractAddress: "0xdeed", TokenId: "42", TransactionHash: "0xhash"})
	}))
	defer srv.Close()

	deeds, err := NewDeedClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	user := &models.User{Id: "u1", WalletAddress: "0xborrower"}
	loan := &models.Loan{Id: "loan-1", PropertyId: "p", Principal: decimal.NewFromInt(1000)}
	deed, err := deeds.MintDeed(context.Background(), user, loan)
	if err != nil {
		t.Fatalf("MintDeed() error = %v", err)
	}
	if deed.TokenId != "42" {
		t.Errorf("TokenId = %q", deed.TokenId)
	}

	_, err = deeds.MintDeed(context.Background(), &models.User{Id: "u2"}, loan)
	if !errors.Is(err, errs.ErrWalletNotLinked) {
		t.Errorf("error = %v, want ErrWalletNotLinked", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewOracleClient("", "", nil); err == nil {
		t.Error("expected error for empty base url")
	}
}
