package common

import (
	"fmt"
	"strings"
	"time"

	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

const DefaultWidth = 80

// PrintHeader prints a title between two rules of '='
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", width))
}

func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the tree prefix for a list item
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "├  "
}

// BoxDetailPrefix returns the prefix for detail lines under a list item
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatAmount renders an amount with its token, e.g. "1500.50 USDC (ethereum)".
func FormatAmount(amount decimal.Decimal, token, chain string) string {
	return fmt.Sprintf("%s %s (%s)", amount.String(), token, chain)
}

func FormatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// PrintLoan writes a loan summary and its payment history as a tree.
func PrintLoan(summary models.LoanSummary, isLast bool) {
	prefix, detail := BoxPrefix(isLast), BoxDetailPrefix(isLast)
	fmt.Printf("%sLoan %s [%s]\n", prefix, summary.Id, summary.Status)
	fmt.Printf("%s  property:  %s\n", detail, summary.PropertyId)
	fmt.Printf("%s  principal: %s\n", detail, FormatAmount(summary.Principal, summary.Token, summary.Chain))
	fmt.Printf("%s  balance:   %s\n", detail, FormatAmount(summary.CurrentBalance, summary.Token, summary.Chain))
	fmt.Printf("%s  rate:      %s\n", detail, summary.InterestRate.String())
	fmt.Printf("%s  activated: %s  closed: %s\n", detail, FormatTime(summary.ActivatedAt), FormatTime(summary.ClosedAt))

	for i, p := range summary.Payments {
		line := fmt.Sprintf("%s  %s%s %s %s", detail, BoxPrefix(i == len(summary.Payments)-1),
			p.Kind, p.Amount.String(), p.Status)
		if p.AppliedAmount != "" {
			line += " applied=" + p.AppliedAmount
		}
		if p.TransactionReference != "" {
			line += " ref=" + p.TransactionReference
		}
		if p.FailureReason != "" {
			line += " reason=" + p.FailureReason
		}
		fmt.Println(line)
	}
}
