package formance

import (
	"math/big"
	"strings"
	"testing"

	"mortgage-settlement-go/internal/journal"
	"mortgage-settlement-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

var testLoan = &models.Loan{
	Id:          "5f0c-loan",
	TokenSymbol: "USDC",
	ChainName:   "Ethereum",
}

func TestFormanceAsset(t *testing.T) {
	tests := []struct {
		symbol   string
		decimals int32
		want     string
	}{
		{"USDC", 6, "USDC/6"},
		{"dai", 18, "DAI/18"},
		{"SEKX", 2, "SEKX/2"},
	}
	for _, tt := range tests {
		if got := formanceAsset(tt.symbol, tt.decimals); got != tt.want {
			t.Errorf("formanceAsset(%q, %d) = %q, want %q", tt.symbol, tt.decimals, got, tt.want)
		}
	}
}

func TestAccountAddress(t *testing.T) {
	tests := []struct {
		accountType string
		want        string
	}{
		{journal.AccountLoanReceivable, "loans:5f0c_loan:receivable"},
		{journal.AccountUnapplied, "loans:5f0c_loan:unapplied"},
		{journal.AccountSuspense, "loans:5f0c_loan:suspense"},
		{journal.AccountTreasury, "treasury:ethereum"},
		{journal.AccountInterestIncome, "income:interest:ethereum"},
	}
	for _, tt := range tests {
		e := models.JournalEntry{LoanId: testLoan.Id, AccountType: tt.accountType}
		if got := accountAddress(e, testLoan); got != tt.want {
			t.Errorf("accountAddress(%s) = %q, want %q", tt.accountType, got, tt.want)
		}
	}
}

func TestToPostingsRepaymentWithExcess(t *testing.T) {
	entries := journal.Repayment(testLoan, "pay-1", decimal.NewFromInt(120), decimal.NewFromInt(100))

	postings, err := toPostings(entries, testLoan)
	if err != nil {
		t.Fatalf("toPostings() error = %v", err)
	}

	want := []posting{
		{Source: "loans:5f0c_loan:receivable", Destination: "treasury:ethereum", Amount: decimal.NewFromInt(100)},
		{Source: "loans:5f0c_loan:unapplied", Destination: "treasury:ethereum", Amount: decimal.NewFromInt(20)},
	}
	if len(postings) != len(want) {
		t.Fatalf("postings = %+v, want %+v", postings, want)
	}
	for i := range want {
		if postings[i].Source != want[i].Source || postings[i].Destination != want[i].Destination ||
			!postings[i].Amount.Equal(want[i].Amount) {
			t.Errorf("posting %d = %+v, want %+v", i, postings[i], want[i])
		}
	}
}

func TestToPostingsRejectsUnbalanced(t *testing.T) {
	entries := []models.JournalEntry{
		{LoanId: testLoan.Id, AccountType: journal.AccountLoanReceivable, DebitAmount: decimal.NewFromInt(5), CreditAmount: decimal.Zero},
	}
	if _, err := toPostings(entries, testLoan); err == nil {
		t.Error("expected error for unbalanced entries")
	}
}

func TestBuildScript(t *testing.T) {
	postings := []posting{{Source: "treasury:ethereum", Destination: "loans:l1:receivable", Amount: decimal.RequireFromString("1.5")}}

	script, vars := buildScript(postings, "USDC/6", 6)

	for _, fragment := range []string{
		"asset $asset",
		"send [$asset $amount_0]",
		"source = $source_0 allowing unbounded overdraft",
		"destination = $destination_0",
		`set_tx_meta("loan_id", $loan_id)`,
	} {
		if !strings.Contains(script, fragment) {
			t.Errorf("script missing %q:\n%s", fragment, script)
		}
	}
	if vars["amount_0"] != "1500000" {
		t.Errorf("amount_0 = %q, want 1500000", vars["amount_0"])
	}
	if vars["asset"] != "USDC/6" || vars["source_0"] != "treasury:ethereum" {
		t.Errorf("vars = %v", vars)
	}
}

func TestGroupByType(t *testing.T) {
	entries := append(journal.Disbursement(testLoan, "p1", decimal.NewFromInt(10)),
		journal.Accrual(testLoan, decimal.NewFromInt(1))...)
	groups := groupByType(entries)
	if len(groups) != 2 || groups[0][0].EntryType != journal.EntryDisbursement || groups[1][0].EntryType != journal.EntryAccrual {
		t.Errorf("groups = %+v", groups)
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"USDC/6": {Input: big.NewInt(3_000_000), Output: big.NewInt(1_000_000)},
	}
	if got := volumeBalance(vols, "USDC/6"); got.Int64() != 2_000_000 {
		t.Errorf("volumeBalance = %v, want 2000000", got)
	}
	if got := volumeBalance(vols, "DAI/18"); got != nil {
		t.Errorf("volumeBalance(missing) = %v, want nil", got)
	}
	if got := bigIntToDecimal(big.NewInt(2_000_000), 6); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("bigIntToDecimal = %s, want 2", got)
	}
	if !bigIntToDecimal(nil, 6).IsZero() {
		t.Error("expected zero for nil")
	}
}
