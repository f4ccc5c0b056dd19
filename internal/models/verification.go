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

// OwnershipCheck is the land registry's answer for a property/owner pair.
type OwnershipCheck struct {
	PropertyId    string              `json:"property_id"`
	Verified      bool                `json:"verified"`
	OwnerRef      string              `json:"owner_ref,omitempty"`
	Address       string              `json:"address,omitempty"`
	PropertyType  string              `json:"property_type,omitempty"`
	SizeSqm       int                 `json:"size_sqm,omitempty"`
	ValuationHint decimal.NullDecimal `json:"valuation_hint"`
	Error         string              `json:"error,omitempty"`
}

// Valuation is the price oracle's current estimate for a property.
type Valuation struct {
	PropertyId string          `json:"property_id"`
	Value      decimal.Decimal `json:"value"`
	Confidence decimal.Decimal `json:"confidence"`
	Currency   string          `json:"currency"`
	Timestamp  time.Time       `json:"timestamp"`
}

// VerificationRecord gates a single origination and is then folded into the
// user row. It is never persisted on its own.
type VerificationRecord struct {
	PropertyId       string
	OwnerRef         string
	Address          string
	Valuation        decimal.Decimal
	Currency         string
	Confidence       decimal.Decimal
	ValuedAt         time.Time
	RegistrySnapshot string
	VerifiedAt       time.Time
}

// Deed is the soulbound mortgage deed minted once a loan is active.
type Deed struct {
	ContractAddress string `json:"contract_address"`
	TokenId         string `json:"token_id"`
	TransactionHash string `json:"transaction_hash"`
}
