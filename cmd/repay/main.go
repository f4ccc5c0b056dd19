package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"mortgage-settlement-go/internal/common"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/lifecycle"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	loanFlag := flag.String("loan", "", "Loan id (required)")
	amountFlag := flag.String("amount", "", "Repayment amount in token units (required)")
	referenceFlag := flag.String("reference", "", "On-chain transaction hash when the borrower already sent the transfer")
	intentFlag := flag.String("intent", "", "Repayment intent id (default: random)")
	flag.Parse()

	if *loanFlag == "" || *amountFlag == "" {
		zap.L().Fatal("Flags --loan and --amount are required")
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		zap.L().Fatal("Invalid amount", zap.String("amount", *amountFlag), zap.Error(err))
	}
	intent := *intentFlag
	if intent == "" {
		intent = uuid.New().String()
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	payment, err := services.Orchestrator.Repay(ctx, lifecycle.RepaymentRequest{
		LoanId:               *loanFlag,
		IntentId:             intent,
		Amount:               amount,
		TransactionReference: *referenceFlag,
	})
	if err != nil && payment == nil {
		zap.L().Fatal("Repayment rejected", zap.String("loan_id", *loanFlag), zap.Error(err))
	}

	common.PrintHeader("REPAYMENT RECORDED", common.DefaultWidth)
	fmt.Printf("Loan:      %s\n", payment.LoanId)
	fmt.Printf("Payment:   %s [%s]\n", payment.Id, payment.Status)
	fmt.Printf("Amount:    %s\n", common.FormatAmount(payment.Amount, payment.TokenSymbol, payment.ChainName))
	fmt.Printf("Intent:    %s\n", intent)
	fmt.Printf("Reference: %s\n", payment.TransactionReference)
	if err != nil {
		common.PrintFooter(fmt.Sprintf("Broadcast failed: %v. Re-run with --intent %s to retry", err, intent), common.DefaultWidth)
		return
	}
	common.PrintFooter("The balance is reduced once the transfer confirms", common.DefaultWidth)
}
