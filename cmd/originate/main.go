package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"mortgage-settlement-go/internal/common"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/lifecycle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Borrower email (required)")
	propertyFlag := flag.String("property", "", "Land registry property designation (required)")
	addressFlag := flag.String("address", "", "Claimed street address of the property (required)")
	principalFlag := flag.String("principal", "", "Loan principal in token units (required)")
	rateFlag := flag.String("rate", "", "Annual interest rate as a fraction, e.g. 0.05 (required)")
	tokenFlag := flag.String("token", "USDC", "Stablecoin symbol")
	chainFlag := flag.String("chain", "ethereum", "Chain the disbursement settles on")
	intentFlag := flag.String("intent", "", "Disbursement intent id; reuse it to retry safely")
	retryLoanFlag := flag.String("retry-loan", "", "Retry the disbursement of an existing pending loan instead")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *retryLoanFlag != "" {
		payment, err := services.Orchestrator.RetryDisbursement(ctx, *retryLoanFlag, *intentFlag)
		if err != nil {
			zap.L().Fatal("Disbursement retry failed", zap.String("loan_id", *retryLoanFlag), zap.Error(err))
		}
		common.PrintHeader("DISBURSEMENT RETRIED", common.DefaultWidth)
		fmt.Printf("Loan:      %s\n", *retryLoanFlag)
		fmt.Printf("Payment:   %s [%s]\n", payment.Id, payment.Status)
		fmt.Printf("Reference: %s\n", payment.TransactionReference)
		common.PrintFooter("The engine activates the loan once the transfer confirms", common.DefaultWidth)
		return
	}

	if *emailFlag == "" || *propertyFlag == "" || *addressFlag == "" || *principalFlag == "" || *rateFlag == "" {
		zap.L().Fatal("Flags --email, --property, --address, --principal and --rate are required")
	}
	principal, err := decimal.NewFromString(*principalFlag)
	if err != nil {
		zap.L().Fatal("Invalid principal", zap.String("principal", *principalFlag), zap.Error(err))
	}
	rate, err := decimal.NewFromString(*rateFlag)
	if err != nil {
		zap.L().Fatal("Invalid rate", zap.String("rate", *rateFlag), zap.Error(err))
	}

	user, err := services.Ledger.GetUserByEmail(ctx, *emailFlag)
	if err != nil {
		zap.L().Fatal("Borrower not found", zap.String("email", *emailFlag), zap.Error(err))
	}

	result, err := services.Orchestrator.Originate(ctx, lifecycle.OriginationRequest{
		UserId:         user.Id,
		PropertyId:     *propertyFlag,
		ClaimedAddress: *addressFlag,
		Principal:      principal,
		InterestRate:   rate,
		Token:          *tokenFlag,
		Chain:          *chainFlag,
		IntentId:       *intentFlag,
	})
	if err != nil && (result == nil || result.Loan == nil) {
		zap.L().Fatal("Origination rejected",
			zap.String("kind", string(errs.KindOf(err))),
			zap.Error(err))
	}

	common.PrintHeader("LOAN ORIGINATED", common.DefaultWidth)
	fmt.Printf("Loan:      %s [%s]\n", result.Loan.Id, result.Loan.Status)
	fmt.Printf("Property:  %s\n", result.Loan.PropertyId)
	fmt.Printf("Principal: %s\n", common.FormatAmount(result.Loan.Principal, result.Loan.TokenSymbol, result.Loan.ChainName))
	if result.Disbursement != nil {
		fmt.Printf("Payment:   %s [%s]\n", result.Disbursement.Id, result.Disbursement.Status)
		fmt.Printf("Reference: %s\n", result.Disbursement.TransactionReference)
	}
	if err != nil {
		common.PrintFooter(fmt.Sprintf("Disbursement not broadcast: %v. Retry with --retry-loan %s", err, result.Loan.Id), common.DefaultWidth)
		return
	}
	common.PrintFooter("The engine activates the loan once the transfer confirms", common.DefaultWidth)
}
