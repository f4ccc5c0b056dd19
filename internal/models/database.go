/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPendingVerification LoanStatus = "pending_verification"
	LoanStatusActive              LoanStatus = "active"
	LoanStatusPaidOff             LoanStatus = "paid_off"
	LoanStatusDefaulted           LoanStatus = "defaulted"
)

// IsTerminal reports whether no further accrual or transfers are accepted.
func (s LoanStatus) IsTerminal() bool {
	return s == LoanStatusPaidOff || s == LoanStatusDefaulted
}

// CanTransitionTo encodes the one-directional loan state machine.
// active -> active is allowed (accrual, partial repayment).
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case LoanStatusPendingVerification:
		return next == LoanStatusActive
	case LoanStatusActive:
		return next == LoanStatusActive || next == LoanStatusPaidOff || next == LoanStatusDefaulted
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentKind string

const (
	PaymentKindDisbursement PaymentKind = "disbursement"
	PaymentKindRepayment    PaymentKind = "repayment"
)

// User represents a borrower. The verification snapshot is empty until a
// property has been verified as part of an origination.
type User struct {
	Id                  string              `db:"id"`
	ExternalId          string              `db:"external_id"`
	Email               string              `db:"email"`
	Name                string              `db:"name"`
	BankId              string              `db:"bank_id"`
	WalletAddress       string              `db:"wallet_address"`
	PropertyId          string              `db:"property_id"`
	PropertyAddress     string              `db:"property_address"`
	PropertyValue       decimal.NullDecimal `db:"property_value"`
	PropertyCurrency    string              `db:"property_currency"`
	ValuationConfidence decimal.NullDecimal `db:"valuation_confidence"`
	PropertyVerified    bool                `db:"property_verified"`
	VerifiedAt          *time.Time          `db:"verified_at"`
	RegistrySnapshot    string              `db:"registry_snapshot"`
	DeedContractAddress string              `db:"deed_contract_address"`
	DeedTokenId         string              `db:"deed_token_id"`
	CreatedAt           time.Time           `db:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at"`
}

// Loan is the ledger's source of truth for an outstanding balance.
type Loan struct {
	Id             string          `db:"id"`
	UserId         string          `db:"user_id"`
	PropertyId     string          `db:"property_id"`
	Principal      decimal.Decimal `db:"principal"`
	CurrentBalance decimal.Decimal `db:"current_balance"`
	InterestRate   decimal.Decimal `db:"interest_rate"`
	TokenSymbol    string          `db:"token_symbol"`
	ChainName      string          `db:"chain_name"`
	Status         LoanStatus      `db:"status"`
	LastAccrualAt  time.Time       `db:"last_accrual_at"`
	LastPaymentAt  *time.Time      `db:"last_payment_at"`
	ActivatedAt    *time.Time      `db:"activated_at"`
	ClosedAt       *time.Time      `db:"closed_at"`
	Version        int64           `db:"version"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Payment is an append-only record of a disbursement or repayment transfer.
type Payment struct {
	Id                   string              `db:"id"`
	LoanId               string              `db:"loan_id"`
	UserId               string              `db:"user_id"`
	Kind                 PaymentKind         `db:"kind"`
	Amount               decimal.Decimal     `db:"amount"`
	AppliedAmount        decimal.NullDecimal `db:"applied_amount"`
	TokenSymbol          string              `db:"token_symbol"`
	ChainName            string              `db:"chain_name"`
	Recipient            string              `db:"recipient"`
	IdempotencyKey       string              `db:"idempotency_key"`
	TransactionReference string              `db:"transaction_reference"`
	Status               PaymentStatus       `db:"status"`
	BlockHeight          *int64              `db:"block_height"`
	FailureReason        string              `db:"failure_reason"`
	CreatedAt            time.Time           `db:"created_at"`
	ConfirmedAt          *time.Time          `db:"confirmed_at"`
	FailedAt             *time.Time          `db:"failed_at"`
}

// LateSettlement records funds the provider confirmed for a payment that had
// already been failed as timed out. The payment keeps its failed status.
type LateSettlement struct {
	Id                   string          `db:"id"`
	PaymentId            string          `db:"payment_id"`
	LoanId               string          `db:"loan_id"`
	Kind                 PaymentKind     `db:"kind"`
	Amount               decimal.Decimal `db:"amount"`
	TransactionReference string          `db:"transaction_reference"`
	BlockHeight          *int64          `db:"block_height"`
	ObservedAt           time.Time       `db:"observed_at"`
	CreatedAt            time.Time       `db:"created_at"`
}

// JournalEntry is one side of a double-entry posting against a loan.
type JournalEntry struct {
	Id           string          `db:"id"`
	LoanId       string          `db:"loan_id"`
	PaymentId    string          `db:"payment_id"`
	EntryType    string          `db:"entry_type"` // "disbursement", "accrual", "repayment", "late_settlement"
	AccountType  string          `db:"account_type"`
	AccountId    string          `db:"account_id"`
	DebitAmount  decimal.Decimal `db:"debit_amount"`
	CreditAmount decimal.Decimal `db:"credit_amount"`
	CreatedAt    time.Time       `db:"created_at"`
}
