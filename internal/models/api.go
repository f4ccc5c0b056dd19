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

// LoanSummary is the read model returned by the API and the loans CLI
type LoanSummary struct {
	Id             string          `json:"id"`
	UserId         string          `json:"user_id"`
	PropertyId     string          `json:"property_id"`
	Status         LoanStatus      `json:"status"`
	Principal      decimal.Decimal `json:"principal"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	Token          string          `json:"token"`
	Chain          string          `json:"chain"`
	LastAccrualAt  time.Time       `json:"last_accrual_at"`
	ActivatedAt    *time.Time      `json:"activated_at,omitempty"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	Payments       []PaymentRecord `json:"payments"`
}

// PaymentRecord represents a transfer in the loan's history
type PaymentRecord struct {
	Id                   string          `json:"id"`
	Kind                 PaymentKind     `json:"kind"`
	Amount               decimal.Decimal `json:"amount"`
	AppliedAmount        string          `json:"applied_amount,omitempty"`
	Status               PaymentStatus   `json:"status"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	BlockHeight          *int64          `json:"block_height,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	ConfirmedAt          *time.Time      `json:"confirmed_at,omitempty"`
}

// SettlementResult represents the outcome of delivering a chain notification
type SettlementResult struct {
	Success              bool          `json:"success"`
	TransactionReference string        `json:"transaction_reference"`
	Status               PaymentStatus `json:"status,omitempty"`
	Duplicate            bool          `json:"duplicate,omitempty"`
	LateSettlement       bool          `json:"late_settlement,omitempty"`
	ErrorKind            string        `json:"error_kind,omitempty"`
	Error                string        `json:"error,omitempty"`
}

// Health states reported per dependency.
const (
	HealthOK        = "ok"
	HealthUnhealthy = "unhealthy"
)

// HealthReport is the overall status plus one entry per checked dependency.
type HealthReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
