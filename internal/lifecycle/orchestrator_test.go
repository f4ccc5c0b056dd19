package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mortgage-settlement-go/internal/accrual"
	"mortgage-settlement-go/internal/database"
	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/settlement"
	"mortgage-settlement-go/internal/store"
	"mortgage-settlement-go/internal/testutil"
	"mortgage-settlement-go/internal/tokens"
	"mortgage-settlement-go/internal/verification"

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
`

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ledger   *database.Service
	registry *testutil.Registry
	oracle   *testutil.Oracle
	chain    *testutil.Chain
	deeds    *testutil.Deeds
	clock    *clock
	tracker  *settlement.Tracker
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	ledger, err := database.NewService(ctx, models.DatabaseConfig{
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

	registry, err := tokens.Parse([]byte(testTokens))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := accrual.NewEngine(accrual.ConventionCompoundDaily, registry)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		ledger:   ledger,
		registry: testutil.NewRegistry(),
		oracle:   testutil.NewOracle(),
		chain:    testutil.NewChain(),
		deeds:    testutil.NewDeeds(),
		clock:    &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	verifier := verification.NewCoordinator(h.registry, h.oracle, models.VerificationConfig{
		ConfidenceThreshold: decimal.RequireFromString("0.8"),
		CallTimeout:         time.Second,
		MaxAttempts:         3,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
	})
	h.tracker = settlement.NewTracker(ledger, h.chain, time.Hour,
		settlement.WithObserver(NewDeedObserver(ledger, h.deeds)),
		settlement.WithClock(h.clock.Now))
	h.orch = NewOrchestrator(ledger, verifier, h.tracker, engine, registry, models.LifecycleConfig{
		MaxMissedPayments: 3,
		PaymentInterval:   30 * day,
		CycleConcurrency:  4,
	}, WithClock(h.clock.Now))
	return h
}

func (h *harness) borrower(t *testing.T, name, propertyId, confidence string) *models.User {
	t.Helper()
	user, err := h.ledger.CreateUser(context.Background(), store.CreateUserParams{
		ExternalId:    "auth0|" + name,
		Email:         name + "@example.com",
		Name:          name,
		BankId:        "bank-" + name,
		WalletAddress: "0x" + name,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	h.registry.SetOwner(propertyId, user.BankId, "Storgatan 1, Uppsala")
	h.oracle.SetValuation(propertyId, "4200000", confidence)
	return user
}

func origination(user *models.User, propertyId string) OriginationRequest {
	return OriginationRequest{
		UserId:         user.Id,
		PropertyId:     propertyId,
		ClaimedAddress: "Götgatan 1, Stockholm",
		Principal:      decimal.NewFromInt(100000),
		InterestRate:   decimal.RequireFromString("0.05"),
		Token:          "USDC",
		Chain:          "ethereum",
		IntentId:       "disburse-1",
	}
}

// originateActive originates a loan and confirms its disbursement.
func (h *harness) originateActive(t *testing.T, name, propertyId string) *models.Loan {
	t.Helper()
	ctx := context.Background()
	user := h.borrower(t, name, propertyId, "0.92")

	result, err := h.orch.Originate(ctx, origination(user, propertyId))
	if err != nil {
		t.Fatalf("Originate() error = %v", err)
	}
	if _, err := h.tracker.Reconcile(ctx, result.Disbursement.TransactionReference, confirmed(1)); err != nil {
		t.Fatalf("Reconcile(disbursement) error = %v", err)
	}
	loan, err := h.ledger.GetLoan(ctx, result.Loan.Id)
	if err != nil {
		t.Fatal(err)
	}
	return loan
}

func confirmed(height int64) models.ChainStatus {
	return models.ChainStatus{State: models.ChainStateConfirmed, BlockHeight: &height}
}

func TestOriginateActivatesAfterConfirmedDisbursement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "alice", "UPPSALA-1:1", "0.92")

	result, err := h.orch.Originate(ctx, origination(user, "UPPSALA-1:1"))
	if err != nil {
		t.Fatalf("Originate() error = %v", err)
	}
	if result.Loan.Status != models.LoanStatusPendingVerification {
		t.Errorf("Status = %s, want pending_verification", result.Loan.Status)
	}
	if result.Disbursement.Recipient != "0xalice" || result.Disbursement.TransactionReference == "" {
		t.Errorf("disbursement = %+v", result.Disbursement)
	}

	verified, err := h.ledger.GetUserById(ctx, user.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !verified.PropertyVerified || verified.PropertyId != "UPPSALA-1:1" {
		t.Errorf("user snapshot = verified %v, property %q", verified.PropertyVerified, verified.PropertyId)
	}

	if _, err := h.tracker.Reconcile(ctx, result.Disbursement.TransactionReference, confirmed(7)); err != nil {
		t.Fatal(err)
	}

	loan, err := h.ledger.GetLoan(ctx, result.Loan.Id)
	if err != nil {
		t.Fatal(err)
	}
	if loan.Status != models.LoanStatusActive || !loan.CurrentBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("loan = %s at %s, want active at 100000", loan.Status, loan.CurrentBalance)
	}

	if _, ok := h.deeds.Minted(loan.Id); !ok {
		t.Error("expected a deed to be minted on activation")
	}
	withDeed, _ := h.ledger.GetUserById(ctx, user.Id)
	if withDeed.DeedTokenId == "" || withDeed.DeedContractAddress != "0xdeedcontract" {
		t.Errorf("deed not recorded on user: %+v", withDeed)
	}
}

func TestOriginateLowConfidenceCreatesNoLoan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "bob", "UPPSALA-2:2", "0.75")

	_, err := h.orch.Originate(ctx, origination(user, "UPPSALA-2:2"))
	if !errors.Is(err, errs.ErrLowConfidenceValuation) {
		t.Fatalf("error = %v, want ErrLowConfidenceValuation", err)
	}

	loans, err := h.ledger.ListLoans(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(loans) != 0 {
		t.Errorf("loans = %d, want none", len(loans))
	}
	if got := len(h.chain.Broadcasts()); got != 0 {
		t.Errorf("broadcasts = %d, want none", got)
	}
}

func TestOriginateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "carol", "UPPSALA-3:3", "0.92")

	noWallet, err := h.ledger.CreateUser(ctx, store.CreateUserParams{
		ExternalId: "auth0|nowallet", Email: "nowallet@example.com", Name: "No Wallet", BankId: "bank-nowallet",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*OriginationRequest)
		want   error
	}{
		{"zero principal", func(r *OriginationRequest) { r.Principal = decimal.Zero }, errs.ErrInvalidAmount},
		{"rate of one", func(r *OriginationRequest) { r.InterestRate = decimal.NewFromInt(1) }, errs.ErrInvalidRate},
		{"negative rate", func(r *OriginationRequest) { r.InterestRate = decimal.RequireFromString("-0.01") }, errs.ErrInvalidRate},
		{"unsupported token", func(r *OriginationRequest) { r.Token = "DOGE" }, errs.ErrUnsupportedToken},
		{"too many decimals", func(r *OriginationRequest) { r.Principal = decimal.RequireFromString("1.0000001") }, errs.ErrInvalidAmount},
		{"unknown user", func(r *OriginationRequest) { r.UserId = "missing" }, errs.ErrUserNotFound},
		{"no wallet", func(r *OriginationRequest) { r.UserId = noWallet.Id }, errs.ErrWalletNotLinked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := origination(user, "UPPSALA-3:3")
			tt.mutate(&req)
			if _, err := h.orch.Originate(ctx, req); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if h.registry.Calls() != 0 {
		t.Errorf("registry called %d times for invalid requests", h.registry.Calls())
	}
}

func TestExactRepaymentThenAccrualFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loan := h.originateActive(t, "dave", "UPPSALA-4:4")

	payment, err := h.orch.Repay(ctx, RepaymentRequest{LoanId: loan.Id, IntentId: "repay-1", Amount: loan.CurrentBalance})
	if err != nil {
		t.Fatalf("Repay() error = %v", err)
	}
	if payment.Recipient != "0xtreasury" {
		t.Errorf("Recipient = %q, want treasury", payment.Recipient)
	}
	if _, err := h.tracker.Reconcile(ctx, payment.TransactionReference, confirmed(2)); err != nil {
		t.Fatal(err)
	}

	closed, _ := h.ledger.GetLoan(ctx, loan.Id)
	if closed.Status != models.LoanStatusPaidOff {
		t.Fatalf("Status = %s, want paid_off", closed.Status)
	}

	if _, err := h.orch.Accrue(ctx, loan.Id, h.clock.Now().Add(30*day)); !errors.Is(err, errs.ErrLoanClosed) {
		t.Errorf("Accrue() error = %v, want ErrLoanClosed", err)
	}
	if _, err := h.orch.Repay(ctx, RepaymentRequest{LoanId: loan.Id, Amount: decimal.NewFromInt(1)}); !errors.Is(err, errs.ErrLoanClosed) {
		t.Errorf("Repay() error = %v, want ErrLoanClosed", err)
	}
}

func TestDisbursementTimeoutThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "erin", "UPPSALA-5:5", "0.92")

	result, err := h.orch.Originate(ctx, origination(user, "UPPSALA-5:5"))
	if err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(time.Hour)
	if err := h.tracker.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	failed, _ := h.ledger.GetPayment(ctx, result.Disbursement.Id)
	if failed.Status != models.PaymentStatusFailed {
		t.Fatalf("disbursement = %s, want failed", failed.Status)
	}
	if loan, _ := h.ledger.GetLoan(ctx, result.Loan.Id); loan.Status != models.LoanStatusPendingVerification {
		t.Errorf("Status = %s, want pending_verification", loan.Status)
	}

	retry, err := h.orch.RetryDisbursement(ctx, result.Loan.Id, "disburse-2")
	if err != nil {
		t.Fatalf("RetryDisbursement() error = %v", err)
	}
	if retry.Id == failed.Id || retry.IdempotencyKey == failed.IdempotencyKey {
		t.Errorf("retry reused %s", failed.Id)
	}
	if _, err := h.tracker.Reconcile(ctx, retry.TransactionReference, confirmed(3)); err != nil {
		t.Fatal(err)
	}
	if loan, _ := h.ledger.GetLoan(ctx, result.Loan.Id); loan.Status != models.LoanStatusActive {
		t.Errorf("Status = %s after retry, want active", loan.Status)
	}
}

func TestRetryRefusedAfterLateConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "frank", "UPPSALA-6:6", "0.92")

	result, err := h.orch.Originate(ctx, origination(user, "UPPSALA-6:6"))
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Hour)
	if err := h.tracker.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	_, err = h.tracker.Reconcile(ctx, result.Disbursement.TransactionReference, confirmed(4))
	if !errors.Is(err, errs.ErrLateSettlement) {
		t.Fatalf("late Reconcile() error = %v, want ErrLateSettlement", err)
	}

	_, err = h.orch.RetryDisbursement(ctx, result.Loan.Id, "disburse-2")
	if !errors.Is(err, errs.ErrLateSettlement) {
		t.Errorf("RetryDisbursement() error = %v, want ErrLateSettlement", err)
	}
	if got := len(h.chain.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want only the original disbursement", got)
	}
	if loan, _ := h.ledger.GetLoan(ctx, result.Loan.Id); loan.Status != models.LoanStatusPendingVerification {
		t.Errorf("Status = %s, want pending_verification", loan.Status)
	}
}

func TestAccrueOneYear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loan := h.originateActive(t, "frank", "UPPSALA-6:6")
	asOf := loan.LastAccrualAt.Add(365 * day)

	accrued, err := h.orch.Accrue(ctx, loan.Id, asOf)
	if err != nil {
		t.Fatalf("Accrue() error = %v", err)
	}
	if want := decimal.RequireFromString("105126.749647"); !accrued.CurrentBalance.Equal(want) {
		t.Errorf("CurrentBalance = %s, want %s", accrued.CurrentBalance, want)
	}

	again, err := h.orch.Accrue(ctx, loan.Id, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if !again.CurrentBalance.Equal(accrued.CurrentBalance) || again.Version != accrued.Version {
		t.Errorf("second accrual changed the loan: %s v%d", again.CurrentBalance, again.Version)
	}

	if err := h.ledger.ReconcileLoanBalance(ctx, loan.Id); err != nil {
		t.Errorf("ReconcileLoanBalance() error = %v", err)
	}
}

func TestAccrueOnPendingLoanIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.borrower(t, "gina", "UPPSALA-7:7", "0.92")
	result, err := h.orch.Originate(ctx, origination(user, "UPPSALA-7:7"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.orch.Accrue(ctx, result.Loan.Id, h.clock.Now().Add(day))
	if !errors.Is(err, errs.ErrAccrualOnInactiveLoan) {
		t.Errorf("error = %v, want ErrAccrualOnInactiveLoan", err)
	}
	if errs.KindOf(err) != errs.KindConsistencyViolation {
		t.Errorf("kind = %s, want consistency_violation", errs.KindOf(err))
	}
}

func TestEvaluateDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loan := h.originateActive(t, "hank", "UPPSALA-8:8")
	activated := *loan.ActivatedAt

	defaulted, err := h.orch.EvaluateDefault(ctx, loan.Id, activated.Add(89*day))
	if err != nil || defaulted {
		t.Fatalf("at 89 days = %v, %v, want not defaulted", defaulted, err)
	}

	defaulted, err = h.orch.EvaluateDefault(ctx, loan.Id, activated.Add(90*day))
	if err != nil || !defaulted {
		t.Fatalf("at 90 days = %v, %v, want defaulted", defaulted, err)
	}

	closed, _ := h.ledger.GetLoan(ctx, loan.Id)
	if closed.Status != models.LoanStatusDefaulted || closed.ClosedAt == nil {
		t.Errorf("loan = %s closed %v", closed.Status, closed.ClosedAt)
	}
	if _, err := h.orch.EvaluateDefault(ctx, loan.Id, activated.Add(120*day)); !errors.Is(err, errs.ErrLoanClosed) {
		t.Errorf("second evaluation error = %v, want ErrLoanClosed", err)
	}
}

func TestRepaymentResetsDefaultAnchor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loan := h.originateActive(t, "iris", "UPPSALA-9:9")

	h.clock.Advance(60 * day)
	payment, err := h.orch.Repay(ctx, RepaymentRequest{LoanId: loan.Id, IntentId: "repay-1", Amount: decimal.NewFromInt(1000)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.tracker.Reconcile(ctx, payment.TransactionReference, confirmed(5)); err != nil {
		t.Fatal(err)
	}

	defaulted, err := h.orch.EvaluateDefault(ctx, loan.Id, loan.ActivatedAt.Add(100*day))
	if err != nil || defaulted {
		t.Errorf("after repayment at day 60, day 100 = %v, %v, want not defaulted", defaulted, err)
	}
}

func TestRunCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.originateActive(t, "jack", "UPPSALA-10:1")
	second := h.originateActive(t, "kate", "UPPSALA-10:2")

	if err := h.orch.RunCycle(ctx, first.LastAccrualAt.Add(30*day)); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	for _, id := range []string{first.Id, second.Id} {
		loan, _ := h.ledger.GetLoan(ctx, id)
		if want := decimal.RequireFromString("100411.776237"); !loan.CurrentBalance.Equal(want) {
			t.Errorf("loan %s balance = %s, want %s", id, loan.CurrentBalance, want)
		}
		if loan.Status != models.LoanStatusActive {
			t.Errorf("loan %s status = %s", id, loan.Status)
		}
	}

	if err := h.orch.RunCycle(ctx, first.LastAccrualAt.Add(95*day)); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	for _, id := range []string{first.Id, second.Id} {
		if loan, _ := h.ledger.GetLoan(ctx, id); loan.Status != models.LoanStatusDefaulted {
			t.Errorf("loan %s status = %s, want defaulted", id, loan.Status)
		}
	}
}

func TestDeedFailureDoesNotBlockActivation(t *testing.T) {
	h := newHarness(t)
	h.deeds.SetFailing(true)
	loan := h.originateActive(t, "liam", "UPPSALA-11:1")

	if loan.Status != models.LoanStatusActive {
		t.Errorf("Status = %s, want active", loan.Status)
	}
	if _, ok := h.deeds.Minted(loan.Id); ok {
		t.Error("deed should not be minted")
	}
}
