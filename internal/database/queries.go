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

package database

const schema = `
	-- Borrowers and their verified property snapshot
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		bank_id TEXT NOT NULL DEFAULT '',
		wallet_address TEXT NOT NULL DEFAULT '',
		property_id TEXT UNIQUE,
		property_address TEXT NOT NULL DEFAULT '',
		property_value TEXT,
		property_currency TEXT NOT NULL DEFAULT '',
		valuation_confidence TEXT,
		property_verified INTEGER NOT NULL DEFAULT 0,
		verified_at TIMESTAMP,
		registry_snapshot TEXT NOT NULL DEFAULT '',
		deed_contract_address TEXT NOT NULL DEFAULT '',
		deed_token_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (property_verified = 0 OR property_value IS NOT NULL)
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		property_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		current_balance TEXT NOT NULL CHECK (CAST(current_balance AS REAL) >= 0),
		interest_rate TEXT NOT NULL,
		token_symbol TEXT NOT NULL,
		chain_name TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending_verification', 'active', 'paid_off', 'defaulted')),
		last_accrual_at TIMESTAMP NOT NULL,
		last_payment_at TIMESTAMP,
		activated_at TIMESTAMP,
		closed_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_user_id ON loans(user_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	-- A property backs at most one open loan
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_open_property ON loans(property_id)
		WHERE status IN ('pending_verification', 'active');

	CREATE TRIGGER IF NOT EXISTS trg_loans_terminal_status
	BEFORE UPDATE OF status ON loans
	WHEN OLD.status IN ('paid_off', 'defaulted') AND NEW.status != OLD.status
	BEGIN
		SELECT RAISE(ABORT, 'loan status is terminal');
	END;

	-- Append-only transfer audit trail
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('disbursement', 'repayment')),
		amount TEXT NOT NULL CHECK (CAST(amount AS REAL) > 0),
		applied_amount TEXT,
		token_symbol TEXT NOT NULL,
		chain_name TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		transaction_reference TEXT UNIQUE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'failed')),
		block_height INTEGER,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		confirmed_at TIMESTAMP,
		failed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_payments_loan_id ON payments(loan_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);

	CREATE TRIGGER IF NOT EXISTS trg_payments_no_delete
	BEFORE DELETE ON payments
	BEGIN
		SELECT RAISE(ABORT, 'payments are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_payments_settled
	BEFORE UPDATE ON payments
	WHEN OLD.status != 'pending'
	BEGIN
		SELECT RAISE(ABORT, 'payment is already settled');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_payments_immutable
	BEFORE UPDATE OF loan_id, kind, amount, idempotency_key ON payments
	WHEN NEW.loan_id != OLD.loan_id OR NEW.kind != OLD.kind
		OR NEW.amount != OLD.amount OR NEW.idempotency_key != OLD.idempotency_key
	BEGIN
		SELECT RAISE(ABORT, 'payment terms are immutable');
	END;

	-- Confirmations that arrived after their payment was failed as timed out
	CREATE TABLE IF NOT EXISTS late_settlements (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL UNIQUE REFERENCES payments(id),
		loan_id TEXT NOT NULL REFERENCES loans(id),
		kind TEXT NOT NULL CHECK (kind IN ('disbursement', 'repayment')),
		amount TEXT NOT NULL CHECK (CAST(amount AS REAL) > 0),
		transaction_reference TEXT NOT NULL DEFAULT '',
		block_height INTEGER,
		observed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_late_settlements_loan_id ON late_settlements(loan_id);

	CREATE TRIGGER IF NOT EXISTS trg_late_settlements_no_update
	BEFORE UPDATE ON late_settlements
	BEGIN
		SELECT RAISE(ABORT, 'late settlements are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_late_settlements_no_delete
	BEFORE DELETE ON late_settlements
	BEGIN
		SELECT RAISE(ABORT, 'late settlements are append-only');
	END;

	-- Double-entry postings for every balance mutation
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		payment_id TEXT,
		entry_type TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount TEXT NOT NULL DEFAULT '0',
		credit_amount TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_loan_id ON journal_entries(loan_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);
`

const (
	userColumns = `
		id, external_id, email, name, bank_id, wallet_address, property_id, property_address,
		property_value, property_currency, valuation_confidence, property_verified, verified_at,
		registry_snapshot, deed_contract_address, deed_token_id, created_at, updated_at`

	loanColumns = `
		id, user_id, property_id, principal, current_balance, interest_rate, token_symbol,
		chain_name, status, last_accrual_at, last_payment_at, activated_at, closed_at, version,
		created_at, updated_at`

	paymentColumns = `
		id, loan_id, user_id, kind, amount, applied_amount, token_symbol, chain_name, recipient,
		idempotency_key, transaction_reference, status, block_height, failure_reason, created_at,
		confirmed_at, failed_at`

	lateSettlementColumns = `
		id, payment_id, loan_id, kind, amount, transaction_reference, block_height, observed_at,
		created_at`

	journalColumns = `
		id, loan_id, payment_id, entry_type, account_type, account_id, debit_amount,
		credit_amount, created_at`
)

const (
	// User queries
	queryInsertUser = `
		INSERT INTO users (id, external_id, email, name, bank_id, wallet_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetUsers = `SELECT ` + userColumns + ` FROM users ORDER BY created_at`

	queryGetUserById = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	queryGetUserByExternalId = `SELECT ` + userColumns + ` FROM users WHERE external_id = ?`

	queryGetUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = ?`

	queryLinkWallet = `
		UPDATE users SET wallet_address = ?, updated_at = ? WHERE id = ?`

	queryRecordDeed = `
		UPDATE users SET deed_contract_address = ?, deed_token_id = ?, updated_at = ? WHERE id = ?`

	queryRecordVerification = `
		UPDATE users
		SET property_id = ?, property_address = ?, property_value = ?, property_currency = ?,
		    valuation_confidence = ?, property_verified = 1, verified_at = ?, registry_snapshot = ?,
		    updated_at = ?
		WHERE id = ?`

	// Loan queries
	queryInsertLoan = `
		INSERT INTO loans (
			id, user_id, property_id, principal, current_balance, interest_rate, token_symbol,
			chain_name, status, last_accrual_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	queryGetLoan = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

	queryListLoans = `SELECT ` + loanColumns + ` FROM loans ORDER BY created_at`

	queryListLoansByStatus = `SELECT ` + loanColumns + ` FROM loans WHERE status = ? ORDER BY created_at`

	queryListLoansByUser = `SELECT ` + loanColumns + ` FROM loans WHERE user_id = ? ORDER BY created_at`

	queryUpdateLoan = `
		UPDATE loans
		SET current_balance = ?, status = ?, last_accrual_at = ?, last_payment_at = ?,
		    activated_at = ?, closed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	// Payment queries
	queryInsertPayment = `
		INSERT INTO payments (
			id, loan_id, user_id, kind, amount, token_symbol, chain_name, recipient,
			idempotency_key, transaction_reference, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetPayment = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	queryGetPaymentByReference = `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_reference = ?`

	queryGetPaymentByIdempotencyKey = `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = ?`

	queryListPayments = `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = ? ORDER BY created_at, id`

	queryListPendingPayments = `SELECT ` + paymentColumns + ` FROM payments WHERE status = 'pending' ORDER BY created_at`

	queryListUnsettledFailures = `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'failed' AND failure_reason = ?
		  AND NOT EXISTS (SELECT 1 FROM late_settlements l WHERE l.payment_id = payments.id)
		ORDER BY created_at`

	queryPendingRepaymentAmounts = `
		SELECT amount FROM payments
		WHERE loan_id = ? AND kind = 'repayment' AND status = 'pending'`

	querySetPaymentReference = `
		UPDATE payments SET transaction_reference = ?
		WHERE id = ? AND transaction_reference IS NULL AND status = 'pending'`

	queryUpdatePaymentSettlement = `
		UPDATE payments
		SET status = ?, applied_amount = ?, block_height = ?, failure_reason = ?,
		    confirmed_at = ?, failed_at = ?, transaction_reference = COALESCE(transaction_reference, ?)
		WHERE id = ? AND loan_id = ? AND status = 'pending'`

	// Late settlement queries
	queryInsertLateSettlement = `
		INSERT INTO late_settlements (
			id, payment_id, loan_id, kind, amount, transaction_reference, block_height, observed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListLateSettlements = `SELECT ` + lateSettlementColumns + ` FROM late_settlements WHERE loan_id = ? ORDER BY created_at, id`

	// Journal queries
	queryInsertJournalEntry = `
		INSERT INTO journal_entries (
			id, loan_id, payment_id, entry_type, account_type, account_id, debit_amount, credit_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetJournalEntries = `SELECT ` + journalColumns + ` FROM journal_entries WHERE loan_id = ? ORDER BY created_at, id`

	queryGetAccountEntries = `
		SELECT debit_amount, credit_amount FROM journal_entries
		WHERE account_type = ? AND account_id = ?`
)
