package formance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mortgage-settlement-go/internal/journal"
	"mortgage-settlement-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type posting struct {
	Source      string
	Destination string
	Amount      decimal.Decimal
}

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func segment(s string) string {
	return unsafeSegment.ReplaceAllString(strings.ToLower(s), "_")
}

// accountAddress maps a journal account onto the Formance chart:
//
//	loans:{loan}:receivable, loans:{loan}:unapplied, loans:{loan}:suspense,
//	treasury:{chain}, income:interest:{chain}
func accountAddress(e models.JournalEntry, loan *models.Loan) string {
	switch e.AccountType {
	case journal.AccountLoanReceivable:
		return "loans:" + segment(e.LoanId) + ":receivable"
	case journal.AccountUnapplied:
		return "loans:" + segment(e.LoanId) + ":unapplied"
	case journal.AccountSuspense:
		return "loans:" + segment(e.LoanId) + ":suspense"
	case journal.AccountTreasury:
		return "treasury:" + segment(loan.ChainName)
	case journal.AccountInterestIncome:
		return "income:interest:" + segment(loan.ChainName)
	default:
		return "unknown:" + segment(e.AccountType)
	}
}

// toPostings pairs credited accounts (sources) with debited accounts
// (destinations) in entry order. Entries must be balanced.
func toPostings(entries []models.JournalEntry, loan *models.Loan) ([]posting, error) {
	if err := journal.Balanced(entries); err != nil {
		return nil, err
	}

	type side struct {
		account string
		amount  decimal.Decimal
	}
	var debits, credits []side
	for _, e := range entries {
		if e.DebitAmount.IsPositive() {
			debits = append(debits, side{accountAddress(e, loan), e.DebitAmount})
		}
		if e.CreditAmount.IsPositive() {
			credits = append(credits, side{accountAddress(e, loan), e.CreditAmount})
		}
	}

	var postings []posting
	i, j := 0, 0
	for i < len(debits) && j < len(credits) {
		amount := decimal.Min(debits[i].amount, credits[j].amount)
		postings = append(postings, posting{
			Source:      credits[j].account,
			Destination: debits[i].account,
			Amount:      amount,
		})
		debits[i].amount = debits[i].amount.Sub(amount)
		credits[j].amount = credits[j].amount.Sub(amount)
		if debits[i].amount.IsZero() {
			i++
		}
		if credits[j].amount.IsZero() {
			j++
		}
	}
	return postings, nil
}

// buildScript renders one Numscript transaction with a send per posting.
// Amounts are in the asset's smallest unit.
func buildScript(postings []posting, asset string, decimals int32) (string, map[string]string) {
	var vars, sends strings.Builder
	values := map[string]string{"asset": asset}

	vars.WriteString("vars {\n  asset $asset\n")
	for i, p := range postings {
		fmt.Fprintf(&vars, "  number $amount_%d\n  account $source_%d\n  account $destination_%d\n", i, i, i)
		fmt.Fprintf(&sends, "\nsend [$asset $amount_%d] (\n  source = $source_%d allowing unbounded overdraft\n  destination = $destination_%d\n)\n", i, i, i)

		values[fmt.Sprintf("amount_%d", i)] = p.Amount.Shift(decimals).BigInt().String()
		values[fmt.Sprintf("source_%d", i)] = p.Source
		values[fmt.Sprintf("destination_%d", i)] = p.Destination
	}
	vars.WriteString("  string $loan_id\n  string $entry_type\n}\n")

	script := vars.String() + sends.String() +
		"\nset_tx_meta(\"loan_id\", $loan_id)\nset_tx_meta(\"entry_type\", $entry_type)\n"
	return script, values
}

// Post writes entries as one Formance transaction per entry type. The
// reference makes a repeated post a no-op.
func (s *Service) Post(ctx context.Context, loan *models.Loan, reference string, entries []models.JournalEntry, at time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	decimals, ok := s.precision.Decimals(loan.TokenSymbol, loan.ChainName)
	if !ok {
		decimals = 6
	}
	asset := s.asset(loan)

	for _, group := range groupByType(entries) {
		entryType := group[0].EntryType

		postings, err := toPostings(group, loan)
		if err != nil {
			return fmt.Errorf("cannot mirror %s entries of loan %s: %w", entryType, loan.Id, err)
		}
		script, vars := buildScript(postings, asset, decimals)
		vars["loan_id"] = loan.Id
		vars["entry_type"] = entryType

		ts := at.UTC()
		txRef := reference + ":" + entryType
		_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
			Ledger: s.ledger,
			V2PostTransaction: shared.V2PostTransaction{
				Reference: strPtr(txRef),
				Script: &shared.V2PostTransactionScript{
					Plain: script,
					Vars:  vars,
				},
				Timestamp: &ts,
			},
		})
		if err != nil {
			if isConflictError(err) {
				zap.L().Debug("Journal entries already mirrored", zap.String("reference", txRef))
				continue
			}
			return fmt.Errorf("failed to mirror %s: %w", txRef, err)
		}

		zap.L().Debug("Mirrored journal entries",
			zap.String("reference", txRef),
			zap.String("loan_id", loan.Id),
			zap.Int("postings", len(postings)))
	}
	return nil
}

func groupByType(entries []models.JournalEntry) [][]models.JournalEntry {
	var groups [][]models.JournalEntry
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.EntryType]
		if !ok {
			i = len(groups)
			index[e.EntryType] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}
