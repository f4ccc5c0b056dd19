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

// ChainState is the settlement provider's view of a broadcast transfer.
type ChainState string

const (
	ChainStatePending   ChainState = "pending"
	ChainStateConfirmed ChainState = "confirmed"
	ChainStateFailed    ChainState = "failed"
)

// ChainStatus is reported by the provider when polled, or delivered by its
// notification callback.
type ChainStatus struct {
	State       ChainState `json:"state"`
	BlockHeight *int64     `json:"block_height,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ObservedAt  time.Time  `json:"observed_at,omitempty"`
	// Reference is set when the status was looked up by idempotency key
	// before the transfer's reference was recorded.
	Reference string `json:"transaction_reference,omitempty"`
	// Amount and Symbol describe what actually moved on-chain, when the
	// provider reports it.
	Amount decimal.NullDecimal `json:"amount,omitempty"`
	Symbol string              `json:"symbol,omitempty"`
}

// BroadcastRequest asks the settlement provider to move funds on-chain.
type BroadcastRequest struct {
	Amount         decimal.Decimal
	Token          string
	Chain          string
	Recipient      string
	IdempotencyKey string
}
