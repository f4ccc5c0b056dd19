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

package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/journal"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Tracker struct {
	store      store.LedgerStore
	chain      ChainProvider
	window     time.Duration
	lateWindow time.Duration
	observer   Observer
	mirror     Mirror
	now        func() time.Time
}

type Option func(*Tracker)

func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

func WithMirror(m Mirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

// WithLateConfirmationWindow sets how long timed-out payments are still
// polled. Zero stops polling them; notifications are still recorded.
func WithLateConfirmationWindow(d time.Duration) Option {
	return func(t *Tracker) { t.lateWindow = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(ledger store.LedgerStore, chain ChainProvider, window time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		store:      ledger,
		chain:      chain,
		window:     window,
		lateWindow: DefaultLateConfirmationWindow,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitiateTransfer records a pending payment and broadcasts it. A repeated
// call with the same loan and intent returns the existing payment, and
// re-broadcasts it if the first broadcast never produced a reference. When
// the broadcast fails the pending payment is returned along with the error.
func (t *Tracker) InitiateTransfer(ctx context.Context, req TransferRequest) (*models.Payment, error) {
	if req.LoanId == "" || req.IntentId == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "loan id and intent id are required")
	}
	if !req.Amount.IsPositive() {
		return nil, errs.New(errs.ErrInvalidAmount, "transfer amount must be positive, got %s", req.Amount)
	}
	if req.Kind != models.PaymentKindDisbursement && req.Kind != models.PaymentKindRepayment {
		return nil, errs.New(errs.ErrInvalidRequest, "unknown transfer kind %q", req.Kind)
	}

	key := IdempotencyKey(req.LoanId, req.IntentId)

	var payment *models.Payment
	err := t.store.WithLoanLock(ctx, req.LoanId, func(tx store.LoanTx) error {
		existing, err := tx.GetPaymentByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Kind != req.Kind || !existing.Amount.Equal(req.Amount) {
				return errs.New(errs.ErrIdempotencyConflict, "key %s was used for a %s of %s",
					key, existing.Kind, existing.Amount)
			}
			payment = existing
			return nil
		}

		loan := tx.Loan()
		if err := t.checkPreconditions(ctx, tx, loan, req); err != nil {
			return err
		}

		payment = &models.Payment{
			Id:                   uuid.New().String(),
			LoanId:               loan.Id,
			UserId:               loan.UserId,
			Kind:                 req.Kind,
			Amount:               req.Amount,
			TokenSymbol:          loan.TokenSymbol,
			ChainName:            loan.ChainName,
			Recipient:            req.Recipient,
			IdempotencyKey:       key,
			TransactionReference: req.TransactionReference,
			Status:               models.PaymentStatusPending,
			CreatedAt:            t.now(),
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentStatusPending || payment.TransactionReference != "" {
		return payment, nil
	}
	return t.broadcast(ctx, payment)
}

func (t *Tracker) checkPreconditions(ctx context.Context, tx store.LoanTx, loan *models.Loan, req TransferRequest) error {
	if loan.Status.IsTerminal() {
		return errs.New(errs.ErrLoanClosed, "loan %s is %s", loan.Id, loan.Status)
	}
	if req.Token != "" && !strings.EqualFold(req.Token, loan.TokenSymbol) ||
		req.Chain != "" && !strings.EqualFold(req.Chain, loan.ChainName) {
		return errs.New(errs.ErrTokenMismatch, "loan %s settles in %s on %s, got %s on %s",
			loan.Id, loan.TokenSymbol, loan.ChainName, req.Token, req.Chain)
	}
	if req.Recipient == "" {
		return errs.New(errs.ErrInvalidRequest, "recipient is required")
	}

	switch req.Kind {
	case models.PaymentKindDisbursement:
		if loan.Status != models.LoanStatusPendingVerification {
			return errs.New(errs.ErrInvalidRequest, "loan %s is %s, disbursement already settled", loan.Id, loan.Status)
		}
		if !req.Amount.Equal(loan.Principal) {
			return errs.New(errs.ErrInvalidAmount, "disbursement of %s does not match principal %s", req.Amount, loan.Principal)
		}
		payments, err := tx.Payments(ctx)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Kind == models.PaymentKindDisbursement && p.Status != models.PaymentStatusFailed {
				return errs.New(errs.ErrDisbursementInFlight, "payment %s is %s", p.Id, p.Status)
			}
		}
		late, err := tx.LateSettlements(ctx)
		if err != nil {
			return err
		}
		for _, l := range late {
			if l.Kind == models.PaymentKindDisbursement {
				return errs.New(errs.ErrLateSettlement, "timed-out payment %s was confirmed at %s, resolve it before retrying",
					l.PaymentId, l.TransactionReference)
			}
		}

	case models.PaymentKindRepayment:
		if loan.Status != models.LoanStatusActive {
			return errs.New(errs.ErrInvalidRequest, "loan %s is %s, repayments need an active loan", loan.Id, loan.Status)
		}
		pending, err := tx.PendingRepaymentTotal(ctx)
		if err != nil {
			return err
		}
		if available := loan.CurrentBalance.Sub(pending); req.Amount.GreaterThan(available) {
			return errs.New(errs.ErrOverpayment, "repayment of %s exceeds outstanding %s (balance %s, pending %s)",
				req.Amount, available, loan.CurrentBalance, pending)
		}
	}
	return nil
}

// broadcast runs outside the loan lock. The payment id doubles as the
// provider idempotency key so a repeated broadcast never sends twice.
func (t *Tracker) broadcast(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	reference, err := t.chain.Broadcast(ctx, models.BroadcastRequest{
		Amount:         payment.Amount,
		Token:          payment.TokenSymbol,
		Chain:          payment.ChainName,
		Recipient:      payment.Recipient,
		IdempotencyKey: payment.Id,
	})
	if err != nil {
		zap.L().Warn("Broadcast failed, payment left pending",
			zap.String("payment_id", payment.Id),
			zap.String("loan_id", payment.LoanId),
			zap.Error(err))
		if errs.KindOf(err) == "" {
			err = errs.Wrap(errs.ErrBroadcastFailed, err, "payment %s", payment.Id)
		}
		return payment, err
	}

	if err := t.store.SetPaymentReference(ctx, payment.Id, reference); err != nil {
		if !errors.Is(err, errs.ErrConflictingSettlement) {
			return payment, fmt.Errorf("failed to record reference %s: %w", reference, err)
		}
		zap.L().Warn("Payment settled before its reference was recorded",
			zap.String("payment_id", payment.Id),
			zap.String("transaction_reference", reference),
			zap.Error(err))
		return t.store.GetPayment(ctx, payment.Id)
	}

	payment.TransactionReference = reference
	zap.L().Info("Transfer broadcast",
		zap.String("payment_id", payment.Id),
		zap.String("loan_id", payment.LoanId),
		zap.String("transaction_reference", reference),
		zap.String("amount", payment.Amount.String()))
	return payment, nil
}

// Reconcile applies a status reported for a transfer reference. Confirmed
// balances are applied exactly once; a second confirmation returns the
// recorded status with ErrDuplicateConfirmation and changes nothing. A
// pending status delivered after the payment settled is ignored. A
// confirmation for a payment already failed as timed out is recorded as a
// late settlement, the payment stays failed and ErrLateSettlement is returned.
func (t *Tracker) Reconcile(ctx context.Context, reference string, status models.ChainStatus) (models.PaymentStatus, error) {
	payment, err := t.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return "", err
	}
	return t.reconcilePayment(ctx, payment, status)
}

// Poll queries the provider for every pending payment. Payments whose
// confirmation window elapsed are failed even when the provider cannot be
// reached. Payments that timed out inside the late confirmation window are
// checked too, and their confirmations recorded as late settlements.
func (t *Tracker) Poll(ctx context.Context) error {
	pending, err := t.store.ListPendingPayments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending payments: %w", err)
	}

	var result error
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return multierr.Append(result, err)
		}
		payment := &pending[i]

		status, err := t.chain.GetStatus(ctx, payment.TransactionReference, payment.Id)
		if err != nil {
			if !t.expired(payment) {
				result = multierr.Append(result, fmt.Errorf("status of payment %s: %w", payment.Id, err))
				continue
			}
			status = &models.ChainStatus{State: models.ChainStatePending}
		}

		if _, err := t.reconcilePayment(ctx, payment, *status); err != nil && !errors.Is(err, errs.ErrDuplicateConfirmation) {
			result = multierr.Append(result, err)
		}
	}

	if t.lateWindow <= 0 {
		return result
	}
	timedOut, err := t.store.ListFailedPayments(ctx, FailureTimedOut, t.now().Add(-t.lateWindow))
	if err != nil {
		return multierr.Append(result, fmt.Errorf("failed to list timed-out payments: %w", err))
	}
	for i := range timedOut {
		if err := ctx.Err(); err != nil {
			return multierr.Append(result, err)
		}
		payment := &timedOut[i]

		status, err := t.chain.GetStatus(ctx, payment.TransactionReference, payment.Id)
		if err != nil {
			result = multierr.Append(result, fmt.Errorf("status of timed-out payment %s: %w", payment.Id, err))
			continue
		}
		if status.State != models.ChainStateConfirmed {
			continue
		}
		_, err = t.reconcilePayment(ctx, payment, *status)
		if err != nil && !errors.Is(err, errs.ErrLateSettlement) && !errors.Is(err, errs.ErrDuplicateConfirmation) {
			result = multierr.Append(result, err)
		}
	}
	return result
}

func (t *Tracker) expired(payment *models.Payment) bool {
	return t.window > 0 && t.now().Sub(payment.CreatedAt) >= t.window
}

type settled struct {
	loan      *models.Loan
	payment   *models.Payment
	entries   []models.JournalEntry
	at        time.Time
	activated bool
	paidOff   bool
	late      *models.LateSettlement
}

func (t *Tracker) reconcilePayment(ctx context.Context, stale *models.Payment, status models.ChainStatus) (models.PaymentStatus, error) {
	var outcome models.PaymentStatus
	var result *settled

	err := t.store.WithLoanLock(ctx, stale.LoanId, func(tx store.LoanTx) error {
		payment, err := tx.GetPayment(ctx, stale.Id)
		if err != nil {
			return err
		}
		outcome = payment.Status

		if payment.Status == models.PaymentStatusFailed && payment.FailureReason == FailureTimedOut &&
			status.State == models.ChainStateConfirmed {
			result, err = t.recordLate(ctx, tx, payment, status)
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return t.checkSettled(payment, status)
		}

		if payment.TransactionReference == "" && status.Reference != "" {
			payment.TransactionReference = status.Reference
		}

		switch status.State {
		case models.ChainStateConfirmed:
			if mismatch := transferMismatch(payment, status); mismatch != "" {
				zap.L().Error("Confirmed transfer does not match payment",
					zap.String("payment_id", payment.Id),
					zap.String("loan_id", payment.LoanId),
					zap.String("mismatch", mismatch))
				result, err = t.fail(ctx, tx, payment, FailureTransferMismatch+": "+mismatch)
				break
			}
			result, err = t.confirm(ctx, tx, payment, status)
		case models.ChainStateFailed:
			reason := status.Reason
			if reason == "" {
				reason = "rejected by settlement provider"
			}
			result, err = t.fail(ctx, tx, payment, reason)
		case models.ChainStatePending:
			if !t.expired(payment) {
				return nil
			}
			result, err = t.fail(ctx, tx, payment, FailureTimedOut)
		default:
			return errs.New(errs.ErrInvalidRequest, "unknown chain state %q", status.State)
		}
		if err != nil {
			return err
		}
		outcome = result.payment.Status
		return nil
	})
	if errors.Is(err, errs.ErrDuplicateConfirmation) {
		return outcome, err
	}
	if err != nil {
		return "", err
	}

	if result != nil {
		t.afterCommit(ctx, result)
	}
	if result != nil && result.late != nil {
		return outcome, errs.New(errs.ErrLateSettlement, "payment %s was failed as timed out before %s confirmed at height %s",
			result.late.PaymentId, result.late.TransactionReference, formatHeight(result.late.BlockHeight))
	}
	return outcome, nil
}

// transferMismatch describes how the observed transfer differs from the
// payment, or returns "" when the provider reported nothing to compare.
func transferMismatch(payment *models.Payment, status models.ChainStatus) string {
	if status.Symbol != "" && !strings.EqualFold(status.Symbol, payment.TokenSymbol) {
		return fmt.Sprintf("observed %s, expected %s", status.Symbol, payment.TokenSymbol)
	}
	if status.Amount.Valid && !status.Amount.Decimal.Abs().Equal(payment.Amount) {
		return fmt.Sprintf("observed amount %s, expected %s", status.Amount.Decimal.Abs(), payment.Amount)
	}
	return ""
}

func formatHeight(height *int64) string {
	if height == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *height)
}

// recordLate keeps a timed-out payment failed and books the funds that moved
// anyway into the loan's suspense account.
func (t *Tracker) recordLate(ctx context.Context, tx store.LoanTx, payment *models.Payment, status models.ChainStatus) (*settled, error) {
	now := t.now()
	amount := payment.Amount
	if status.Amount.Valid && status.Amount.Decimal.IsPositive() {
		amount = status.Amount.Decimal.Abs()
	}
	reference := payment.TransactionReference
	if reference == "" {
		reference = status.Reference
	}
	observedAt := status.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	loan := tx.Loan()
	late := &models.LateSettlement{
		PaymentId:            payment.Id,
		LoanId:               loan.Id,
		Kind:                 payment.Kind,
		Amount:               amount,
		TransactionReference: reference,
		BlockHeight:          status.BlockHeight,
		ObservedAt:           observedAt,
		CreatedAt:            now,
	}
	if err := tx.RecordLateSettlement(ctx, late); err != nil {
		return nil, err
	}
	entries := journal.LateSettlement(loan, payment.Id, payment.Kind, amount)
	if err := tx.AddJournalEntries(ctx, entries); err != nil {
		return nil, err
	}

	zap.L().Error("Confirmation arrived after payment timed out, funds held in suspense",
		zap.String("payment_id", payment.Id),
		zap.String("loan_id", loan.Id),
		zap.String("kind", string(payment.Kind)),
		zap.String("amount", amount.String()),
		zap.String("transaction_reference", reference),
		zap.String("block_height", formatHeight(status.BlockHeight)))
	return &settled{loan: loan, payment: payment, entries: entries, at: now, late: late}, nil
}

func (t *Tracker) checkSettled(payment *models.Payment, status models.ChainStatus) error {
	switch {
	case status.State == models.ChainStatePending:
		zap.L().Debug("Ignoring pending status for settled payment",
			zap.String("payment_id", payment.Id),
			zap.String("status", string(payment.Status)))
		return nil
	case status.State == models.ChainStateConfirmed && payment.Status == models.PaymentStatusConfirmed:
		zap.L().Error("Duplicate confirmation rejected",
			zap.String("payment_id", payment.Id),
			zap.String("transaction_reference", payment.TransactionReference))
		return errs.New(errs.ErrDuplicateConfirmation, "payment %s", payment.Id)
	case status.State == models.ChainStateFailed && payment.Status == models.PaymentStatusFailed:
		return nil
	default:
		zap.L().Error("Conflicting settlement status",
			zap.String("payment_id", payment.Id),
			zap.String("recorded", string(payment.Status)),
			zap.String("reported", string(status.State)))
		return errs.New(errs.ErrConflictingSettlement, "payment %s is %s, provider reports %s",
			payment.Id, payment.Status, status.State)
	}
}

func (t *Tracker) confirm(ctx context.Context, tx store.LoanTx, payment *models.Payment, status models.ChainStatus) (*settled, error) {
	now := t.now()
	loan := tx.Loan()
	result := &settled{loan: loan, payment: payment}

	payment.Status = models.PaymentStatusConfirmed
	payment.BlockHeight = status.BlockHeight
	payment.ConfirmedAt = &now
	result.at = now

	applied := decimal.Zero
	switch payment.Kind {
	case models.PaymentKindDisbursement:
		if loan.Status != models.LoanStatusPendingVerification {
			zap.L().Error("Disbursement confirmed for loan that is no longer pending, needs manual review",
				zap.String("payment_id", payment.Id),
				zap.String("loan_id", loan.Id),
				zap.String("loan_status", string(loan.Status)))
			break
		}
		applied = payment.Amount
		loan.Status = models.LoanStatusActive
		loan.CurrentBalance = loan.Principal
		loan.ActivatedAt = &now
		loan.LastAccrualAt = now
		result.activated = true
		result.entries = journal.Disbursement(loan, payment.Id, payment.Amount)

	case models.PaymentKindRepayment:
		if loan.Status != models.LoanStatusActive {
			zap.L().Warn("Repayment confirmed on closed loan, recorded as unapplied for manual review",
				zap.String("payment_id", payment.Id),
				zap.String("loan_id", loan.Id),
				zap.String("loan_status", string(loan.Status)),
				zap.String("amount", payment.Amount.String()))
		} else {
			applied = decimal.Min(payment.Amount, loan.CurrentBalance)
			loan.CurrentBalance = loan.CurrentBalance.Sub(applied)
			loan.LastPaymentAt = &now
			if loan.CurrentBalance.IsZero() {
				loan.Status = models.LoanStatusPaidOff
				loan.ClosedAt = &now
				result.paidOff = true
			}
		}
		result.entries = journal.Repayment(loan, payment.Id, payment.Amount, applied)
	}
	payment.AppliedAmount = decimal.NewNullDecimal(applied)

	if err := tx.UpdatePaymentSettlement(ctx, payment); err != nil {
		return nil, err
	}
	if applied.IsPositive() {
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return nil, err
		}
	}
	if len(result.entries) > 0 {
		if err := tx.AddJournalEntries(ctx, result.entries); err != nil {
			return nil, err
		}
	}

	zap.L().Info("Payment confirmed",
		zap.String("payment_id", payment.Id),
		zap.String("loan_id", loan.Id),
		zap.String("kind", string(payment.Kind)),
		zap.String("applied", applied.String()),
		zap.String("balance", loan.CurrentBalance.String()),
		zap.String("loan_status", string(loan.Status)))
	return result, nil
}

func (t *Tracker) fail(ctx context.Context, tx store.LoanTx, payment *models.Payment, reason string) (*settled, error) {
	now := t.now()
	payment.Status = models.PaymentStatusFailed
	payment.FailureReason = reason
	payment.FailedAt = &now

	if err := tx.UpdatePaymentSettlement(ctx, payment); err != nil {
		return nil, err
	}

	zap.L().Warn("Payment failed",
		zap.String("payment_id", payment.Id),
		zap.String("loan_id", payment.LoanId),
		zap.String("kind", string(payment.Kind)),
		zap.String("reason", reason))
	return &settled{loan: tx.Loan(), payment: payment, at: now}, nil
}

func (t *Tracker) afterCommit(ctx context.Context, s *settled) {
	if t.mirror != nil && len(s.entries) > 0 {
		reference := s.payment.TransactionReference
		if reference == "" {
			reference = s.payment.Id
		}
		if err := t.mirror.Post(ctx, s.loan, reference, s.entries, s.at); err != nil {
			zap.L().Warn("Failed to mirror journal entries",
				zap.String("payment_id", s.payment.Id),
				zap.Error(err))
		}
	}

	if t.observer == nil {
		return
	}
	if s.activated {
		t.observer.LoanActivated(ctx, s.loan, s.payment)
	}
	if s.paidOff {
		t.observer.LoanPaidOff(ctx, s.loan, s.payment)
	}
}
