package main

import (
	"context"
	"flag"
	"fmt"

	"mortgage-settlement-go/internal/api"
	"mortgage-settlement-go/internal/common"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Only show loans for this borrower")
	loanFlag := flag.String("loan", "", "Show a single loan with its payment history")
	statusFlag := flag.String("status", "", "Filter by status: pending_verification, active, paid_off, defaulted")
	reconcileFlag := flag.Bool("reconcile", false, "Check every balance against its journal")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ledger, closeLedger, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to open ledger", zap.Error(err))
	}
	defer closeLedger()

	loans := api.NewLoanService(ledger, nil)

	switch {
	case *reconcileFlag:
		reconcile(ctx, loans)
	case *loanFlag != "":
		summary, err := loans.GetLoanSummary(ctx, *loanFlag)
		if err != nil {
			zap.L().Fatal("Failed to load loan", zap.String("loan_id", *loanFlag), zap.Error(err))
		}
		common.PrintHeader("LOAN "+summary.Id, common.DefaultWidth)
		common.PrintLoan(*summary, true)
		fmt.Println()
	default:
		list(ctx, ledger, loans, *emailFlag, models.LoanStatus(*statusFlag))
	}
}

func list(ctx context.Context, ledger store.LedgerStore, loans *api.LoanService, email string, status models.LoanStatus) {
	users, err := common.InitializeUsers(ctx, ledger, email)
	if err != nil {
		zap.L().Fatal("Failed to load users", zap.Error(err))
	}

	common.PrintHeader("LOANS", common.DefaultWidth)
	shown := 0
	for _, u := range users {
		_, summaries, err := loans.GetUserLoans(ctx, u.Email)
		if err != nil {
			zap.L().Error("Failed to load loans", zap.String("user_id", u.Id), zap.Error(err))
			continue
		}

		var matching []models.LoanSummary
		for _, s := range summaries {
			if status == "" || s.Status == status {
				matching = append(matching, s)
			}
		}
		if len(matching) == 0 {
			continue
		}

		fmt.Printf("\n%s <%s>  wallet=%s\n", u.Name, u.Email, u.WalletAddress)
		for i, s := range matching {
			full, err := loans.GetLoanSummary(ctx, s.Id)
			if err != nil {
				zap.L().Error("Failed to load loan", zap.String("loan_id", s.Id), zap.Error(err))
				continue
			}
			common.PrintLoan(*full, i == len(matching)-1)
			shown++
		}
	}
	common.PrintFooter(fmt.Sprintf("%d loan(s)", shown), common.DefaultWidth)
}

func reconcile(ctx context.Context, loans *api.LoanService) {
	reports, err := loans.ReconcileAll(ctx)

	common.PrintHeader("RECONCILIATION", common.DefaultWidth)
	for i, r := range reports {
		state := "ok"
		if !r.JournalOK {
			state = "MISMATCH"
		}
		fmt.Printf("%s%s balance=%s journal=%s\n", common.BoxPrefix(i == len(reports)-1),
			r.LoanId, r.StoredBalance.String(), state)
		for _, l := range r.LateSettlements {
			fmt.Printf("%slate %s of %s confirmed at %s after payment %s timed out\n",
				common.BoxDetailPrefix(i == len(reports)-1), l.Kind, l.Amount.String(),
				l.TransactionReference, l.PaymentId)
		}
	}

	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Printf("  ✗ %v\n", e)
		}
		common.PrintFooter(fmt.Sprintf("%d loan(s) need review", len(multierr.Errors(err))), common.DefaultWidth)
		return
	}
	common.PrintFooter(fmt.Sprintf("%d loan(s) reconciled", len(reports)), common.DefaultWidth)
}
